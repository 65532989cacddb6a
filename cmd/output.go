package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alpkeskin/gotoon"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/pders01/truthmint/internal/verify"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headStyle = lipgloss.NewStyle().Bold(true)
)

// writeStructured prints v as JSON or toon when one of the switches is set
// and reports whether it did.
func writeStructured(w io.Writer, v any, asJSON, asToon bool) (bool, error) {
	switch {
	case asJSON:
		output, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(output))
		return true, nil
	case asToon:
		output, err := gotoon.Encode(v)
		if err != nil {
			return true, fmt.Errorf("failed to encode Toon: %w", err)
		}
		fmt.Fprintln(w, output)
		return true, nil
	}
	return false, nil
}

// styled reports whether w is a terminal worth colouring.
func styled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func paint(w io.Writer, s lipgloss.Style, text string) string {
	if !styled(w) {
		return text
	}
	return s.Render(text)
}

// printReport writes one status line per check.
func printReport(w io.Writer, r *verify.Report) {
	fmt.Fprintln(w, paint(w, headStyle, fmt.Sprintf("verify %s", r.Phase)))
	for _, res := range r.Results {
		if res.OK {
			line := fmt.Sprintf("  %s %s", paint(w, okStyle, "PASS"), res.Name)
			if res.Detail != "" {
				line += " " + paint(w, dimStyle, res.Detail)
			}
			fmt.Fprintln(w, line)
			continue
		}
		fmt.Fprintf(w, "  %s %s: %s\n", paint(w, failStyle, "FAIL"), res.Name, res.Error)
	}
	failed := len(r.Failed())
	if failed == 0 {
		fmt.Fprintln(w, paint(w, okStyle, fmt.Sprintf("%d checks passed", len(r.Results))))
		return
	}
	fmt.Fprintln(w, paint(w, failStyle, fmt.Sprintf("%d of %d checks failed", failed, len(r.Results))))
}
