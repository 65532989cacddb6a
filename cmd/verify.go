package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/verify"
)

var (
	verifyPhase string
	verifyJSON  bool
	verifyToon  bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the consistency checks",
	Long: `Run every check of a phase and print one status line per check.

  pre   policy, authority, log, truncation and index integrity
  post  pre plus the FULL/SLIM artifact and backup checks

Exits 0 only if every check passes.

Examples:
  truth verify
  truth verify --phase post --json`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyPhase, "phase", "pre", "Phase to run: pre|post")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Output as JSON")
	verifyCmd.Flags().BoolVar(&verifyToon, "toon", false, "Output in LLM-friendly toon format")
}

func runVerify(cmd *cobra.Command, args []string) error {
	phase, err := verify.ParsePhase(verifyPhase)
	if err != nil {
		return err
	}
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	report := o.Verify(cmd.Context(), phase)

	w := cmd.OutOrStdout()
	if ok, err := writeStructured(w, report, verifyJSON, verifyToon); ok {
		if err != nil {
			return err
		}
		return report.Err()
	}
	printReport(w, report)
	return report.Err()
}
