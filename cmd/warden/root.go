package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// logLevel filters the process logger; SIGHUP reloads may change it.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - vendor compliance monitoring",
	Long: `Warden watches vendor risk signals and keeps vendors compliant.

It records signals as an append-only event log, evaluates compliance policies
against each vendor's current facts, and opens and tracks cases through an
SLA-bound review workflow:
  - Policy authoring with validation, versions and four-eyes approval
  - Condition matching over a typed field taxonomy
  - Automated actions: cases, alerts, webhooks and vendor status changes
  - SLA sweeps that escalate overdue cases
  - Signal ingestion over HTTP and Kafka

Configuration is read from --config and WARDEN_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and WARDEN_* environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig initializes the global configuration from --config.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return config.GetConfig(), nil
}

// newLogger builds the process logger from the telemetry section and makes
// it the slog default. --verbose forces debug level.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	lc := logging.FromConfig(cfg.Telemetry.Logging)
	lc.LevelVar = logLevel
	if verbose {
		lc.Level = "debug"
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}
