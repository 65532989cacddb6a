package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var repairJSON bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Fix line endings and a truncated last entry in the truth log",
	Long: `Normalize the truth log to LF line endings and drop a trailing entry
that never got its END line, the two damages an interrupted hand edit
leaves behind. Complete entries are never changed.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)

	repairCmd.Flags().BoolVar(&repairJSON, "json", false, "Output as JSON")
}

func runRepair(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	res, err := p.log().Repair()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if ok, err := writeStructured(w, res, repairJSON, false); ok {
		return err
	}
	if !res.Changed {
		fmt.Fprintf(w, "✓ %s needs no repair (%d entries)\n", p.pol.LogFile, res.RemainingEntries)
		return nil
	}
	fmt.Fprintf(w, "✓ Repaired %s\n", p.pol.LogFile)
	if res.NormalizedEOL {
		fmt.Fprintln(w, "  Normalized line endings to LF")
	}
	if res.DroppedLines > 0 {
		fmt.Fprintf(w, "  Dropped unterminated TRUTH_V%d (%d lines)\n", res.DroppedVersion, res.DroppedLines)
	}
	fmt.Fprintf(w, "  %d entries remain\n", res.RemainingEntries)
	return nil
}
