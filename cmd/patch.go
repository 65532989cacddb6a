package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/walk"
)

var patchOutput string

var patchCmd = &cobra.Command{
	Use:   "patch <path>...",
	Short: "Pack selected files into a repo-relative zip",
	Long: `Write a zip of the given files and directories, with member names
relative to the project root, so it can be unpacked over another checkout.
Only files the filter policy admits are included.

Examples:
  truth patch internal/parser docs/parser.md --output parser.zip`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: runPatch,
}

func init() {
	rootCmd.AddCommand(patchCmd)

	patchCmd.Flags().StringVarP(&patchOutput, "output", "o", "", "Zip file to write (required)")
}

func runPatch(cmd *cobra.Command, args []string) error {
	if patchOutput == "" {
		return errors.New(errors.KindUsage, "--output is required")
	}
	p, err := openProject()
	if err != nil {
		return err
	}
	set, err := walk.Enumerate(cmd.Context(), appFs, p.root, p.pol, walk.Options{})
	if err != nil {
		return err
	}
	dest, err := filepath.Abs(patchOutput)
	if err != nil {
		return errors.Wrap(errors.KindUsage, "resolve --output", err)
	}
	a, err := archive.NewPackager(appFs, p.root, p.pol, slog.Default()).PackPatch(cmd.Context(), set, args, dest)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s (%d files)\n", a.Path, len(a.Members))
	return nil
}
