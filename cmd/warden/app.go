package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/cases/sla"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/lock"
	"mercator-hq/warden/pkg/notify"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/loader"
	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/registry"
	"mercator-hq/warden/pkg/policy/validator"
	"mercator-hq/warden/pkg/service"
	"mercator-hq/warden/pkg/storage/sqlstore"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/vendor"
)

// policyLoaderActor authors policies imported from files.
const policyLoaderActor = "policy-loader"

// app holds the components every command is built from.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	collector *metrics.Collector
	health    *health.Checker
	facts     *facts.Adapter
	policies  *registry.Registry
	scheduler *sla.Scheduler
	service   *service.Service

	closers []func() error
}

// appOptions selects optional components.
type appOptions struct {
	// metrics builds a collector and attaches it to every observer hook.
	metrics bool
}

// stores groups the persistence backends selected by storage.driver.
type stores struct {
	policies registry.Store
	events   facts.Store
	cases    cases.Store
	vendors  vendor.Store
	failures interface {
		engine.FailureLog
		service.FailureLister
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		health: health.New(cfg.Telemetry.Health.CheckTimeout),
	}
	if err := a.build(ctx, opts); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to release resources after startup error", "error", cerr)
		}
		return nil, err
	}
	return a, nil
}

// build opens the stores and wires every component into a. Resources it
// opens are registered in a.closers as soon as they exist.
func (a *app) build(ctx context.Context, opts appOptions) error {
	cfg, logger := a.cfg, a.logger

	if opts.metrics && cfg.Telemetry.Metrics.Enabled {
		a.collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		return err
	}

	webhooks := notify.NewWebhookClient(&http.Client{}, webhookConfig(cfg.Actions.Webhook), logger)
	var alerter interface {
		engine.Alerter
		sla.Alerter
	} = notify.NewLogAlerter(logger)
	if cfg.Actions.AlertWebhookURL != "" {
		alerter = notify.NewWebhookAlerter(webhooks, cfg.Actions.AlertWebhookURL)
	}

	var caseOpts []cases.Option
	if a.collector != nil {
		caseOpts = append(caseOpts, cases.WithObserver(a.collector))
	}
	manager := cases.NewManager(st.cases, locker, slaPolicy(cfg.Cases), logger, caseOpts...)

	profiles := vendor.NewProfiles(st.vendors, logger)
	a.facts = facts.NewAdapter(st.events, logger)
	a.policies = registry.New(st.policies, logger,
		registry.WithLocker(locker),
		registry.WithValidator(validator.New(validator.Limits{
			MaxConditions: cfg.Policy.MaxConditions,
			MaxActions:    cfg.Policy.MaxActions,
		})),
		registry.WithReferences(manager),
		registry.RequireDistinctApprover(cfg.Policy.RequireDistinctApprover),
	)

	deps := engine.Dependencies{
		Cases:    manager,
		Vendors:  profiles,
		Alerter:  alerter,
		Webhooks: webhooks,
		Failures: st.failures,
	}
	if a.collector != nil {
		deps.Observer = a.collector
	}
	exec, err := engine.NewExecutor(deps, executorConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to create action executor: %w", err)
	}
	eng := engine.New(engine.NewMatcher(logger, nil), exec, logger)

	a.scheduler = sla.NewScheduler(manager, alerter, sla.Config{
		Schedule:        cfg.SLA.Schedule,
		AlertChannel:    notify.Channel(cfg.SLA.AlertChannel),
		AlertRecipients: cfg.SLA.AlertRecipients,
	}, logger)
	if a.collector != nil {
		eng.SetObserver(a.collector)
		a.scheduler.SetRecorder(a.collector)
	}

	a.service, err = service.New(service.Dependencies{
		Facts:     a.facts,
		Vendors:   profiles,
		Policies:  a.policies,
		Engine:    eng,
		Cases:     manager,
		Scheduler: a.scheduler,
		Failures:  st.failures,
	}, service.Config{Workers: cfg.Server.EvaluationWorkers}, logger)
	if err != nil {
		return err
	}
	return nil
}

func (a *app) openStores(ctx context.Context) (*stores, error) {
	sc := a.cfg.Storage
	if sc.Driver == config.StorageMemory {
		a.logger.Warn("using in-memory storage; data is lost on exit")
		return &stores{
			policies: registry.NewMemoryStore(),
			events:   facts.NewMemoryStore(),
			cases:    cases.NewMemoryStore(),
			vendors:  vendor.NewMemoryStore(),
			failures: engine.NewMemoryFailureLog(),
		}, nil
	}

	store, err := sqlstore.Open(ctx, &sqlstore.Config{
		Driver:       sc.Driver,
		Path:         sc.Path,
		DSN:          sc.DSN,
		MaxOpenConns: sc.MaxOpenConns,
		MaxIdleConns: sc.MaxIdleConns,
		WALMode:      sc.WALMode,
		BusyTimeout:  sc.BusyTimeout,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.health.RegisterCheck("storage", health.PingCheck(store))

	return &stores{
		policies: store,
		events:   store,
		cases:    store,
		vendors:  store,
		failures: store,
	}, nil
}

func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	lc := a.cfg.Lock
	if lc.Backend != config.LockRedis {
		return lock.NewKeyedMutex(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     lc.Redis.Addr,
		Password: lc.Redis.Password,
		DB:       lc.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", lc.Redis.Addr, err)
	}
	a.health.RegisterCheck("redis", health.RedisCheck(client))

	return lock.NewRedisLocker(client, lock.RedisOptions{
		Prefix: lc.Redis.Prefix,
		TTL:    lc.Redis.TTL,
	}, a.logger), nil
}

// syncPolicies imports policy files from policy.dir, if configured.
func (a *app) syncPolicies(ctx context.Context, l *loader.Loader) (*loader.SyncReport, error) {
	return l.Sync(ctx, a.cfg.Policy.Dir, a.policies, loader.SyncOptions{
		Actor:       policyLoaderActor,
		AutoApprove: a.cfg.Policy.AutoApproveFiles,
	})
}

// Close releases storage and lock connections in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func slaPolicy(cfg config.CasesConfig) cases.SLAPolicy {
	p := cases.DefaultSLAPolicy()
	for sev, d := range cfg.BaseSLA {
		p.Base[model.Severity(sev)] = d
	}
	for sev, d := range cfg.EscalationSLA {
		p.Escalation[model.Severity(sev)] = d
	}
	if cfg.ReopenWindow > 0 {
		p.ReopenWindow = cfg.ReopenWindow
	}
	if cfg.AtRiskWindow > 0 {
		p.AtRiskWindow = cfg.AtRiskWindow
	}
	return p
}

func executorConfig(cfg *config.Config) *engine.ExecutorConfig {
	ec := engine.DefaultExecutorConfig()
	if cfg.Cases.DefaultCaseType != "" {
		ec = ec.WithDefaultCaseType(cases.Type(cfg.Cases.DefaultCaseType))
	}
	if cfg.Cases.DefaultSeverity != "" {
		ec.DefaultSeverity = model.Severity(cfg.Cases.DefaultSeverity)
	}
	if cfg.SLA.AlertChannel != "" {
		ec.DefaultAlertChannel = notify.Channel(cfg.SLA.AlertChannel)
	}
	if cfg.Actions.Timeout > 0 {
		ec = ec.WithActionTimeout(cfg.Actions.Timeout)
	}
	return ec
}

func webhookConfig(cfg config.WebhookConfig) notify.WebhookConfig {
	return notify.WebhookConfig{
		Timeout:       cfg.Timeout,
		MaxAttempts:   cfg.MaxAttempts,
		BaseBackoff:   cfg.BaseBackoff,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	}
}
