package cmd

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/truthlog"
)

var (
	logType  string
	logGrep  string
	logLimit int
	logJSON  bool
	logToon  bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List truth log entries",
	Long: `List the entries of the truth log, newest first, with optional filtering.

Examples:
  truth log
  truth log --type DREAM
  truth log --grep "parser|CRLF" --limit 5
  truth log --json`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().StringVar(&logType, "type", "", "Only entries of this type (CONFIRM|DREAM|DEBUG)")
	logCmd.Flags().StringVar(&logGrep, "grep", "", "Only entries whose text matches this regular expression")
	logCmd.Flags().IntVar(&logLimit, "limit", 0, "Show at most this many entries")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "Output as JSON")
	logCmd.Flags().BoolVar(&logToon, "toon", false, "Output in LLM-friendly toon format")
}

func runLog(cmd *cobra.Command, args []string) error {
	keep, err := entryFilter(logType, logGrep)
	if err != nil {
		return err
	}
	p, err := openProject()
	if err != nil {
		return err
	}
	entries, err := p.log().Entries()
	if err != nil {
		return err
	}

	var out []truthlog.Entry
	for _, e := range slices.Backward(entries) {
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if logLimit > 0 && len(out) == logLimit {
			break
		}
	}

	w := cmd.OutOrStdout()
	if out == nil {
		out = []truthlog.Entry{}
	}
	if ok, err := writeStructured(w, out, logJSON, logToon); ok {
		return err
	}
	if len(out) == 0 {
		fmt.Fprintln(w, "No entries match the filter criteria")
		return nil
	}

	fmt.Fprintf(w, "Found %d entr%s:\n\n", len(out), plural(len(out), "y", "ies"))
	for _, e := range out {
		fmt.Fprintf(w, "  %s\n", paint(w, headStyle, e.Header()))
		if ts, ok := e.Field("Timestamp"); ok {
			fmt.Fprintf(w, "    Time:    %s\n", ts)
		}
		if c, ok := e.Field("Commit"); ok {
			fmt.Fprintf(w, "    Commit:  %s\n", c)
		}
		if len(e.Statement) > 0 {
			first := strings.TrimPrefix(strings.TrimSpace(e.Statement[0]), "- ")
			if len(first) > 72 {
				first = first[:72] + "…"
			}
			fmt.Fprintf(w, "    Summary: %s\n", first)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// entryFilter builds the predicate for --type and --grep.
func entryFilter(typ, pattern string) (func(truthlog.Entry) bool, error) {
	var want truthlog.Type
	if typ != "" {
		t, err := truthlog.ParseType(typ)
		if err != nil {
			return nil, err
		}
		want = t
	}
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return nil, errors.Wrap(errors.KindUsage, "invalid --grep pattern", err)
		}
	}
	return func(e truthlog.Entry) bool {
		if typ != "" && e.Type != want {
			return false
		}
		if re != nil && !re.MatchString(truthlog.Render(e)) {
			return false
		}
		return true
	}, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
