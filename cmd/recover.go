package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Undo a confirm or reseed that did not finish",
	Long: `If a confirm or reseed was killed before it could finish or roll back,
its journal stays in the backup directory and every mutating command
refuses to run. recover restores the log and authority file from the
journal's backup, removes what the transaction created, moves archived
artifacts back and rebuilds the index.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	j, err := o.Recover(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Recovered from %s %s: back at TRUTH_V%d (backup %s kept)\n",
		j.Kind, j.TxID, j.FromVersion, j.Backup)
	return nil
}
