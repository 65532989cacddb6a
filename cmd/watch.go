package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/truthmint/internal/config"
	"github.com/pders01/truthmint/internal/verify"
	"github.com/pders01/truthmint/internal/watch"
)

var watchPhase string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run verification whenever the tree changes",
	Long: `Watch every directory the filter policy admits and re-run a verification
phase once the tree has been quiet for the debounce period
(watch.debounce in the config, default 750ms). Stop with Ctrl-C.

Examples:
  truth watch
  truth watch --phase post`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchPhase, "phase", "pre", "Phase to run on change: pre|post")
}

func runWatch(cmd *cobra.Command, args []string) error {
	phase, err := verify.ParsePhase(watchPhase)
	if err != nil {
		return err
	}
	p, o, err := openOrchestrator()
	if err != nil {
		return err
	}
	w, err := watch.New(p.root, p.pol, config.GetWatchDebounce(), slog.Default())
	if err != nil {
		return err
	}
	defer w.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n\n", p.root)
	printReport(out, o.Verify(cmd.Context(), phase))

	return w.Run(cmd.Context(), func(ctx context.Context, paths []string) {
		shown := paths
		if len(shown) > 3 {
			shown = append(shown[:3:3], fmt.Sprintf("and %d more", len(paths)-3))
		}
		fmt.Fprintf(out, "\nChanged: %s\n", strings.Join(shown, ", "))
		printReport(out, o.Verify(ctx, phase))
	})
}
