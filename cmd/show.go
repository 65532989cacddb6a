package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/truthlog"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Print one truth log entry",
	Long: `Print one entry of the truth log. The version may be given as 3,
TRUTH_V3 or latest.

Examples:
  truth show latest
  truth show TRUTH_V3 --json`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
}

func runShow(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	entries, err := p.log().Entries()
	if err != nil {
		return err
	}
	e, err := findEntry(entries, args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if ok, err := writeStructured(w, e, showJSON, false); ok {
		return err
	}
	fmt.Fprint(w, truthlog.Render(*e))
	return nil
}

func findEntry(entries []truthlog.Entry, ref string) (*truthlog.Entry, error) {
	if len(entries) == 0 {
		return nil, errors.New(errors.KindUsage, "the truth log has no entries")
	}
	if strings.EqualFold(ref, "latest") {
		return &entries[len(entries)-1], nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(ref), "TRUTH_V"))
	if err != nil {
		return nil, errors.Newf(errors.KindUsage, "invalid version %q (want N, TRUTH_VN or latest)", ref)
	}
	for i := range entries {
		if entries[i].Version == n {
			return &entries[i], nil
		}
	}
	return nil, errors.Newf(errors.KindUsage, "no entry TRUTH_V%d (latest is TRUTH_V%d)", n, entries[len(entries)-1].Version)
}
