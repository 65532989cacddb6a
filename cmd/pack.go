package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	packJSON bool
	packToon bool
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Rebuild the index and the artifacts of the current version",
	Long: `Rebuild the derived index and the FULL and SLIM archives of the current
version without minting a new one, then run the post checks.

Packing is deterministic: an unchanged tree produces byte-identical
archives, so pack is also how a missing or damaged artifact is restored.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)

	packCmd.Flags().BoolVar(&packJSON, "json", false, "Output as JSON")
	packCmd.Flags().BoolVar(&packToon, "toon", false, "Output in LLM-friendly toon format")
}

func runPack(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	res, err := o.Pack(cmd.Context())
	w := cmd.OutOrStdout()
	if res != nil {
		if ok, werr := writeStructured(w, res, packJSON, packToon); ok {
			if werr != nil {
				return werr
			}
			return err
		}
		printResult(w, res)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Packed TRUTH_V%d of %s\n", res.Version, res.Project)
	return nil
}
