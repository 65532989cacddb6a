package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/config"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
	"github.com/pders01/truthmint/internal/policy"
)

var initProject string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a truth log in the project root",
	Long: `Create the filter policy (if missing), the version authority file at
TRUTH_V1 and a truth log holding the first entry.

Existing authority or log files are never overwritten; use reseed to
start a new epoch in a project that already has a history.

Examples:
  truth init --project demo
  truth -C ../service init --project service`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initProject, "project", "", "Project name ([A-Za-z0-9_-]+)")
}

func runInit(cmd *cobra.Command, args []string) error {
	if initProject == "" {
		return errors.New(errors.KindUsage, "--project is required")
	}
	root, err := config.GetProjectRoot()
	if err != nil {
		return errors.Wrap(errors.KindConfig, "resolve project root", err)
	}

	rel := config.GetPolicyFile()
	policyPath := (&project{root: root}).abs(rel)
	exists, err := afero.Exists(appFs, policyPath)
	if err != nil {
		return errors.AtPath(errors.KindConfig, rel, "stat policy", err)
	}
	if !exists {
		if err := fsutil.WriteFileAtomic(appFs, policyPath, []byte(policy.Default()), 0o644); err != nil {
			return errors.AtPath(errors.KindConfig, rel, "write default policy", err)
		}
		slog.Info("wrote default policy", "path", rel)
	}

	p, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	res, err := o.Init(cmd.Context(), initProject)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Initialized %s at TRUTH_V1 in %s\n", res.Project, p.root)
	fmt.Fprintf(w, "  Policy:    %s\n", p.pol.File)
	fmt.Fprintf(w, "  Authority: %s\n", res.Authority)
	fmt.Fprintf(w, "  Log:       %s\n", res.Log)
	fmt.Fprintln(w, "Run 'truth pack' to publish the first artifacts.")
	return nil
}
