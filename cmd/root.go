package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pders01/truthmint/internal/config"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/metrics"
	"github.com/pders01/truthmint/internal/mint"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/truthlog"
)

var (
	cfgFile     string
	rootDir     string
	policyFile  string
	metricsFile string
	logLevel    string
)

// appFs is the filesystem every command works on.
var appFs afero.Fs = afero.NewOsFs()

// appMetrics collects the run's metrics; Execute flushes it to --metrics-file.
var appMetrics = metrics.New()

var rootCmd = &cobra.Command{
	Use:   "truth",
	Short: "Append-only truth log with verified, reproducible artifacts",
	Long: `truth keeps a project's append-only truth log, its single version authority
and the FULL and SLIM archives that go with every locked version.

A change is first drafted, then confirmed. Confirming verifies the tree,
takes a backup, appends the entry, rebuilds the derived index, packs the
artifacts and verifies them, rolling everything back if any step fails.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if ferr := appMetrics.WriteTextfile(config.GetMetricsFile()); ferr != nil {
		slog.Warn("could not write metrics", "error", ferr)
	}
	if err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(errors.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/truthmint/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", "", "project root (default is the current directory)")
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "", "policy file relative to the root (default truth.toml)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics in textfile format here")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	_ = viper.BindPFlag(config.KeyProjectRoot, rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag(config.KeyProjectPolicy, rootCmd.PersistentFlags().Lookup("policy"))
	_ = viper.BindPFlag(config.KeyMetricsFile, rootCmd.PersistentFlags().Lookup("metrics-file"))
	_ = viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Wrap(errors.KindUsage, "bad flags", err)
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "truthmint"))
		viper.SetConfigType("toml")
		viper.SetConfigName("config")
	}

	config.SetDefaults(viper.GetViper())
	readErr := viper.ReadInConfig()

	slog.SetDefault(newLogger())
	if readErr == nil {
		slog.Debug("using config file", "path", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		slog.Warn("config file not read", "path", cfgFile, "error", readErr)
	}
}

func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.GetLogLevel()}
	if config.GetLogFormat() == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return errors.Wrap(errors.KindUsage, cmd.CommandPath(), err)
		}
		return nil
	}
}

// project is the opened project every command works on.
type project struct {
	root string
	pol  *policy.Policy
}

func openProject() (*project, error) {
	root, err := config.GetProjectRoot()
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, "resolve project root", err)
	}
	pol, err := policy.Load(appFs, root, config.GetPolicyFile())
	if err != nil {
		return nil, err
	}
	return &project{root: root, pol: pol}, nil
}

func (p *project) orchestrator() *mint.Orchestrator {
	return mint.New(mint.Deps{
		FS:      appFs,
		Root:    p.root,
		Policy:  p.pol,
		Logger:  slog.Default(),
		Metrics: appMetrics,
	})
}

// abs resolves a repository-relative path.
func (p *project) abs(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

func (p *project) log() *truthlog.Log {
	return truthlog.Open(appFs, p.abs(p.pol.LogFile), truthlog.Options{AllowLegacy: p.pol.AllowLegacyEntries, Path: p.pol.LogFile})
}

func openOrchestrator() (*project, *mint.Orchestrator, error) {
	p, err := openProject()
	if err != nil {
		return nil, nil, err
	}
	return p, p.orchestrator(), nil
}
