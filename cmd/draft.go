package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/mint"
	"github.com/pders01/truthmint/internal/truthlog"
)

var (
	draftStatementFile string
	draftStatement     []string
	draftNotes         []string
	draftType          string
	draftOverwrite     bool
	draftJSON          bool
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Prepare, inspect or discard the next truth log entry",
	Long: `A draft is the entry the next confirm will lock. Drafting never touches
the truth log or the authority file.`,
}

var draftMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Write the draft for the next version",
	Long: `Write the draft for the next version from a statement.

The statement comes from --statement (repeatable) or --statement-file
("-" reads stdin). Each non-blank line becomes a bullet.

Examples:
  truth draft mint --statement "Parser accepts CRLF logs"
  truth draft mint --statement-file notes.txt --type DREAM
  git log -1 --format=%B | truth draft mint --statement-file -`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runDraftMint,
}

var draftShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the pending draft",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runDraftShow,
}

var draftRevertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Discard the pending draft",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runDraftRevert,
}

func init() {
	rootCmd.AddCommand(draftCmd)
	draftCmd.AddCommand(draftMintCmd, draftShowCmd, draftRevertCmd)

	draftMintCmd.Flags().StringVar(&draftStatementFile, "statement-file", "", "Read the statement from a file (- for stdin)")
	draftMintCmd.Flags().StringArrayVar(&draftStatement, "statement", nil, "Statement line (repeatable)")
	draftMintCmd.Flags().StringArrayVar(&draftNotes, "notes", nil, "Note line (repeatable)")
	draftMintCmd.Flags().StringVar(&draftType, "type", "CONFIRM", "Entry type: CONFIRM|DREAM|DEBUG")
	draftMintCmd.Flags().BoolVar(&draftOverwrite, "overwrite", false, "Replace a pending draft")

	draftShowCmd.Flags().BoolVar(&draftJSON, "json", false, "Output as JSON")
}

func runDraftMint(cmd *cobra.Command, args []string) error {
	typ, err := truthlog.ParseType(draftType)
	if err != nil {
		return err
	}
	statement := append([]string(nil), draftStatement...)
	if draftStatementFile != "" {
		text, err := readStatement(cmd.InOrStdin(), draftStatementFile)
		if err != nil {
			return err
		}
		statement = append(statement, text)
	}

	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	e, path, err := o.MintDraft(cmd.Context(), mint.DraftRequest{
		Statement: statement,
		Notes:     draftNotes,
		Type:      typ,
		Overwrite: draftOverwrite,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Draft for TRUTH_V%d written: %s\n\n", e.Version, path)
	fmt.Fprint(w, truthlog.Render(*e))
	fmt.Fprintln(w, "\nRun 'truth confirm' to lock it.")
	return nil
}

func readStatement(stdin io.Reader, name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", errors.AtPath(errors.KindUsage, name, "read statement", err)
	}
	return string(data), nil
}

func runDraftShow(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	e, path, err := o.Draft()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if e == nil {
		if draftJSON {
			fmt.Fprintln(w, "null")
			return nil
		}
		fmt.Fprintln(w, "No draft pending")
		return nil
	}
	if ok, err := writeStructured(w, e, draftJSON, false); ok {
		return err
	}
	fmt.Fprintf(w, "# %s\n", path)
	fmt.Fprint(w, truthlog.Render(*e))
	return nil
}

func runDraftRevert(cmd *cobra.Command, args []string) error {
	_, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	if err := o.RevertDraft(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Draft discarded")
	return nil
}
