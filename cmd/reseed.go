package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/mint"
)

var (
	reseedYes       bool
	reseedProject   string
	reseedStatement []string
)

var reseedCmd = &cobra.Command{
	Use:   "reseed",
	Short: "Start a new epoch at TRUTH_V1",
	Long: `Archive the current truth log and artifacts under a timestamped folder
in the archive directory and start over at TRUTH_V1, optionally under a
new project name. Runs as a transaction and rolls back on failure.

Examples:
  truth reseed --yes
  truth reseed --yes --project service-v2 --statement "Split from monorepo"`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runReseed,
}

func init() {
	rootCmd.AddCommand(reseedCmd)

	reseedCmd.Flags().BoolVar(&reseedYes, "yes", false, "Confirm that the current history should be archived")
	reseedCmd.Flags().StringVar(&reseedProject, "project", "", "New project name (default keeps the current one)")
	reseedCmd.Flags().StringArrayVar(&reseedStatement, "statement", nil, "Statement line for the first entry (repeatable)")
}

func runReseed(cmd *cobra.Command, args []string) error {
	if !reseedYes {
		return errors.New(errors.KindUsage, "reseed archives the current history; pass --yes to proceed")
	}
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	res, err := o.Reseed(cmd.Context(), mint.ReseedRequest{Project: reseedProject, Statement: reseedStatement})
	w := cmd.OutOrStdout()
	if res != nil {
		printResult(w, res)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ New epoch for %s at TRUTH_V1 (was TRUTH_V%d)\n", res.Project, res.FromVersion)
	return nil
}
