package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/mint"
)

var (
	confirmJSON bool
	confirmToon bool
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Lock the pending draft as the next version",
	Long: `Run the confirm transaction for the pending draft:

  1. pre verification (nothing is written if it fails)
  2. backup of the current tree
  3. authority bump and log append
  4. derived index rebuild
  5. FULL and SLIM packaging
  6. post verification

Any failure after step 2 restores the repository to its state before the
command. If the process dies mid-way, run 'truth recover'.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runConfirm,
}

func init() {
	rootCmd.AddCommand(confirmCmd)

	confirmCmd.Flags().BoolVar(&confirmJSON, "json", false, "Output as JSON")
	confirmCmd.Flags().BoolVar(&confirmToon, "toon", false, "Output in LLM-friendly toon format")
}

func runConfirm(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	res, err := o.ConfirmDraft(cmd.Context())
	w := cmd.OutOrStdout()
	if res != nil {
		if ok, werr := writeStructured(w, res, confirmJSON, confirmToon); ok {
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
	fmt.Fprintf(w, "✓ Locked TRUTH_V%d of %s\n", res.Version, res.Project)
	return nil
}

// printResult writes the verification reports of a transaction and, when it
// succeeded, what it published.
func printResult(w io.Writer, res *mint.Result) {
	if res.Pre != nil {
		printReport(w, res.Pre)
	}
	if res.Post != nil {
		printReport(w, res.Post)
	}
	if res.Post == nil || !res.Post.OK() {
		return
	}
	if res.Backup != "" {
		fmt.Fprintf(w, "Backup: %s\n", res.Backup)
	}
	if res.Full != nil {
		fmt.Fprintf(w, "FULL:   %s (%d files)\n", res.Full.Path, len(res.Full.Members))
	}
	if res.Slim != nil {
		fmt.Fprintf(w, "SLIM:   %s (%d files)\n", res.Slim.Path, len(res.Slim.Members))
	}
}
