package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/config"
)

var (
	backupJSON  bool
	pruneDryRun bool
	pruneKeep   int
	pruneDays   int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, validate and prune backups",
	Long: `Every confirm and reseed writes a backup of the tree before changing
anything. These commands manage the backup directory by hand.`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write a backup of the current tree",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runBackupList,
}

var backupValidateCmd = &cobra.Command{
	Use:   "validate <zip>",
	Short: "Check a backup against its manifest",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE:  runBackupValidate,
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old backups based on the retention policy",
	Long: `Remove backups beyond the newest --keep that are older than the
retention period. The retention policy is configured in
~/.config/truthmint/config.toml:
  [backup]
  retention_days = 30
  keep = 5

The backup recorded by the last confirm and the one an interrupted
transaction needs are never pruned.

Example:
  truth backup prune --dry-run
  truth backup prune --keep 2 --retention-days 7`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runBackupPrune,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupValidateCmd, backupPruneCmd)

	backupListCmd.Flags().BoolVar(&backupJSON, "json", false, "Output as JSON")

	backupPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Show what would be pruned without deleting")
	backupPruneCmd.Flags().IntVar(&pruneKeep, "keep", -1, "Always keep this many newest backups (default from config)")
	backupPruneCmd.Flags().IntVar(&pruneDays, "retention-days", -1, "Only prune backups older than this (default from config)")
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	rel, err := o.CreateBackup(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup written: %s\n", rel)
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	backups, err := o.Backups()
	if err != nil {
		return err
	}
	if backups == nil {
		backups = []archive.BackupInfo{}
	}
	w := cmd.OutOrStdout()
	if ok, err := writeStructured(w, backups, backupJSON, false); ok {
		return err
	}
	if len(backups) == 0 {
		fmt.Fprintln(w, "No backups found")
		return nil
	}
	for _, b := range backups {
		fmt.Fprintf(w, "  %s  %10d  %s\n", b.ModTime.Local().Format("2006-01-02 15:04"), b.Size, b.Name)
	}
	return nil
}

func runBackupValidate(cmd *cobra.Command, args []string) error {
	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	man, err := archive.ValidateBackup(appFs, file)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d files of %s match the manifest\n", args[0], len(man.Files), man.Project)
	return nil
}

func runBackupPrune(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	keep := pruneKeep
	if keep < 0 {
		keep = config.GetBackupKeep()
	}
	retention := config.GetRetention()
	if pruneDays >= 0 {
		retention = time.Duration(pruneDays) * 24 * time.Hour
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Retention policy: keep %d newest, prune older than %s\n\n", keep, retention)
	doomed, err := o.PruneBackups(keep, retention, pruneDryRun)
	if err != nil {
		return err
	}
	if len(doomed) == 0 {
		fmt.Fprintln(w, "No backups to prune")
		return nil
	}
	verb := "Pruned"
	if pruneDryRun {
		verb = "Would prune"
	}
	fmt.Fprintf(w, "%s %d backup(s):\n", verb, len(doomed))
	for _, b := range doomed {
		fmt.Fprintf(w, "  %s (%s)\n", b.Name, b.ModTime.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
