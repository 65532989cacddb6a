package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	statusJSON bool
	statusToon bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the project's version, draft and artifacts",
	Long: `Show the current version, the latest log entry, the pending draft, the
published artifacts and whether a transaction was interrupted.

Examples:
  truth status
  truth status --json
  truth status --toon`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusToon, "toon", false, "Output in LLM-friendly toon format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	st, err := o.Status(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if ok, err := writeStructured(w, st, statusJSON, statusToon); ok {
		return err
	}

	fmt.Fprintln(w, paint(w, headStyle, fmt.Sprintf("%s at TRUTH_V%d", st.Project, st.Version)))
	fmt.Fprintf(w, "  State:     %s\n", st.State)
	if st.Latest != "" {
		fmt.Fprintf(w, "  Latest:    %s\n", st.Latest)
	}
	if st.Commit != "" {
		fmt.Fprintf(w, "  Commit:    %s\n", st.Commit)
	}
	if st.Draft != nil {
		fmt.Fprintf(w, "  Draft:     TRUTH_V%d (%s)\n", st.Draft.Version, st.DraftPath)
	}
	index := "absent"
	if st.Index {
		index = "published"
	}
	fmt.Fprintf(w, "  Index:     %s\n", index)
	if len(st.Artifacts) == 0 {
		fmt.Fprintln(w, "  Artifacts: none")
	} else {
		fmt.Fprintln(w, "  Artifacts:")
		for _, a := range st.Artifacts {
			fmt.Fprintf(w, "    %s\n", a)
		}
	}
	if j := st.Interrupted; j != nil {
		fmt.Fprintln(w, paint(w, failStyle, fmt.Sprintf("  Interrupted %s %s (TRUTH_V%d -> TRUTH_V%d); run 'truth recover'",
			j.Kind, j.TxID, j.FromVersion, j.ToVersion)))
	}
	return nil
}
