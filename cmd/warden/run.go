package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/ingest/kafka"
	"mercator-hq/warden/pkg/policy/loader"
	"mercator-hq/warden/pkg/server"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/logging"
	"mercator-hq/warden/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Warden API server",
	Long: `Start the Warden API server with the specified configuration.

The server accepts signals and case workflow requests over HTTP. Alongside it
run the SLA sweep scheduler, the policy file watcher (policy.watch) and the
Kafka signal consumer (kafka.enabled).

Examples:
  # Start with defaults and WARDEN_* environment overrides
  warden run

  # Start with a config file
  warden run --config /etc/warden/config.yaml

  # Override listen address
  warden run --listen 0.0.0.0:8080

  # Validate config without starting the server
  warden run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	if err := serve(ctx, cfg, logger, out); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// serve starts every component and blocks until ctx is cancelled or the
// HTTP listener fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	printBanner(out, cfg)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()
	if tracer.Enabled() {
		fmt.Fprintf(out, "✓ Tracing enabled (%s)\n", cfg.Telemetry.Tracing.Endpoint)
	}

	a, err := newApp(ctx, cfg, logger, appOptions{metrics: true})
	if err != nil {
		return err
	}
	defer a.Close()
	fmt.Fprintf(out, "✓ Storage ready (%s)\n", cfg.Storage.Driver)

	if cfg.Policy.Dir != "" {
		if err := startPolicyFiles(ctx, a, out); err != nil {
			return err
		}
	}

	go watchReload(ctx, a)

	if cfg.SLA.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sla scheduler: %w", err)
		}
		defer a.scheduler.Stop()
		a.health.RegisterOptional("sla_scheduler", health.RunningCheck("sla scheduler", a.scheduler.IsRunning))
		fmt.Fprintf(out, "✓ SLA scheduler started (%s)\n", cfg.SLA.Schedule)
	}

	if cfg.Kafka.Enabled {
		consumer, err := startConsumer(ctx, a)
		if err != nil {
			return err
		}
		defer consumer.Close()
		fmt.Fprintf(out, "✓ Kafka consumer started (topic %s)\n", cfg.Kafka.Topic)
	}

	opts := []server.Option{
		server.WithHealth(a.health, cfg.Telemetry.Health.ReadinessRateLimit),
		server.WithTracing(tracer.Enabled()),
		server.WithVersion(Version, GitCommit, BuildDate),
		server.WithLogger(logger),
	}
	if a.collector != nil {
		opts = append(opts, server.WithMetrics(a.collector, cfg.Telemetry.Metrics.Path))
	}
	srv := server.NewServer(&cfg.Server, a.service, opts...)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s/health/ready\n", cfg.Server.ListenAddress)
	if a.collector != nil {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

// startPolicyFiles imports policy.dir and, with policy.watch, re-imports it
// on every change.
func startPolicyFiles(ctx context.Context, a *app, out io.Writer) error {
	cfg := a.cfg.Policy
	l, err := loader.New(loader.DefaultConfig(), a.logger)
	if err != nil {
		return err
	}

	report, err := a.syncPolicies(ctx, l)
	if err != nil {
		return fmt.Errorf("failed to import policies from %s: %w", cfg.Dir, err)
	}
	fmt.Fprintf(out, "✓ Policies imported from %s (%d created, %d updated, %d unchanged, %d errors)\n",
		cfg.Dir, len(report.Created), len(report.Updated), len(report.Unchanged), len(report.Errors))
	if cfg.AutoApproveFiles {
		a.logger.Warn("policy files are activated without approval", "dir", cfg.Dir)
	}

	if !cfg.Watch {
		return nil
	}

	watcher, err := loader.NewWatcher(loader.WatcherConfig{
		Dir:              cfg.Dir,
		DebounceInterval: cfg.DebounceInterval,
		SkipHidden:       true,
	}, a.logger)
	if err != nil {
		return err
	}
	go func() {
		err := watcher.Watch(ctx, func(ctx context.Context) error {
			_, err := a.syncPolicies(ctx, l)
			return err
		})
		if err != nil {
			a.logger.Error("policy watcher stopped", "error", err)
		}
	}()
	fmt.Fprintf(out, "✓ Watching %s for policy changes\n", cfg.Dir)
	return nil
}

// watchReload applies the configuration file again on every SIGHUP.
func watchReload(ctx context.Context, a *app) {
	reload := cli.NotifyReload(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-reload:
			applyReload(ctx, a, config.Reload)
		}
	}
}

// applyReload loads a new configuration and applies the parts that can
// change at runtime: the log level, unless pinned by --log-level or
// --verbose, and a re-sync of policy.dir. Everything else takes effect on
// restart. A configuration that fails to load leaves the process unchanged.
func applyReload(ctx context.Context, a *app, reload func() (*config.Config, error)) {
	cfg, err := reload()
	if err != nil {
		a.logger.Error("configuration reload failed, keeping current settings", "error", err)
		return
	}

	if runFlags.logLevel == "" && !verbose {
		level, err := logging.ParseLevel(cfg.Telemetry.Logging.Level)
		if err != nil {
			a.logger.Warn("ignoring reloaded log level", "error", err)
		} else {
			logLevel.Set(level)
		}
	}

	if a.cfg.Policy.Dir != "" {
		l, err := loader.New(loader.DefaultConfig(), a.logger)
		if err != nil {
			a.logger.Error("failed to create policy loader", "error", err)
		} else if _, err := a.syncPolicies(ctx, l); err != nil {
			a.logger.Error("policy re-sync after reload failed", "dir", a.cfg.Policy.Dir, "error", err)
		}
	}

	a.logger.Info("configuration reloaded", "log_level", logLevel.Level().String())
}

func startConsumer(ctx context.Context, a *app) (*kafka.Consumer, error) {
	reader, err := kafka.NewReader(&a.cfg.Kafka)
	if err != nil {
		return nil, cli.NewConfigError("kafka", err.Error())
	}

	var opts []kafka.Option
	if a.collector != nil {
		opts = append(opts, kafka.WithRecorder(a.collector))
	}
	consumer := kafka.NewConsumer(reader, a.service, a.logger, opts...)

	go func() {
		if err := consumer.Run(ctx); err != nil {
			a.logger.Error("kafka consumer stopped", "error", err)
		}
	}()
	a.health.RegisterOptional("kafka_consumer", health.RunningCheck("kafka consumer", consumer.IsRunning))
	return consumer, nil
}

func printBanner(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Warden v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	}
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("storage", "driver", cfg.Storage.Driver, "lock_backend", cfg.Lock.Backend)
	if cfg.Kafka.Enabled {
		slog.Debug("kafka enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
}
