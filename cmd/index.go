package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/index"
	"github.com/pders01/truthmint/internal/walk"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the derived index",
	Long: `The derived index (repo map, Go symbol index, entrypoints and a README)
is regenerated from the tree on every confirm. These commands rebuild or
check it by hand.`,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Regenerate the derived index from the current tree",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runIndexRebuild,
}

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the published index against its manifest and the tree",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runIndexVerify,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd, indexVerifyCmd)
}

func openIndex(cmd *cobra.Command) (*index.Builder, *walk.FileSet, error) {
	p, err := openProject()
	if err != nil {
		return nil, nil, err
	}
	set, err := walk.Enumerate(cmd.Context(), appFs, p.root, p.pol, walk.Options{})
	if err != nil {
		return nil, nil, err
	}
	return index.NewBuilder(appFs, p.root, p.pol, slog.Default()), set, nil
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	b, set, err := openIndex(cmd)
	if err != nil {
		return err
	}
	idx, err := b.Rebuild(cmd.Context(), set)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Rebuilt %s from %d files\n", idx.Dir, set.Len())
	for _, o := range idx.Outputs {
		fmt.Fprintf(w, "  %-20s %8d  %s\n", o.Name, o.Size, o.SHA256[:12])
	}
	return nil
}

func runIndexVerify(cmd *cobra.Command, args []string) error {
	b, set, err := openIndex(cmd)
	if err != nil {
		return err
	}
	exists, err := b.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return errors.New(errors.KindIndex, "no index published; run truth index rebuild")
	}
	if err := b.Verify(); err != nil {
		return err
	}
	if err := b.MatchesFileSet(cmd.Context(), set); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Index is intact and matches the tree")
	return nil
}
