package sla

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/notify"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

// CaseManager is the subset of cases.Manager the scheduler drives.
type CaseManager interface {
	SLA() cases.SLAPolicy
	DueCases(ctx context.Context, before time.Time) ([]*cases.Case, error)
	AutoEscalate(ctx context.Context, caseNumber string, now time.Time) (bool, error)
	WarnAtRisk(ctx context.Context, caseNumber string, now time.Time) (*cases.Case, bool, error)
}

// Alerter delivers near-breach and breach alerts.
type Alerter interface {
	SendAlert(ctx context.Context, alert notify.Alert) error
}

// Recorder receives sweep outcomes, typically for metrics.
type Recorder interface {
	RecordSweep(result SweepResult)
}

// SweepResult summarizes one scan of the SLA index.
type SweepResult struct {
	Scanned   int           `json:"scanned"`
	Escalated int           `json:"escalated"`
	Warned    int           `json:"warned"`
	Failed    int           `json:"failed"`
	Errors    []error       `json:"-"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Config controls the scheduler.
type Config struct {
	// Schedule is a cron expression or descriptor such as "@every 1m".
	// An empty schedule disables the scheduler.
	Schedule string

	// AlertChannel and AlertRecipients address breach and warning alerts.
	AlertChannel    notify.Channel
	AlertRecipients []string
}

// Scheduler escalates overdue cases and warns about cases nearing their
// deadline on a cron schedule.
type Scheduler struct {
	manager CaseManager
	alerter Alerter
	config  Config
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
	now     func() time.Time

	// entry is the sweep's cron entry, registered on the first Start.
	entry cron.EntryID
	// stopped is closed by Stop to release the context watcher of the run.
	stopped chan struct{}

	// ctxMu guards runCtx, the context sweeps of the current run use.
	ctxMu  sync.RWMutex
	runCtx context.Context

	// recMu guards recorder independently of mu; Stop holds mu while a
	// sweep drains.
	recMu    sync.RWMutex
	recorder Recorder
}

// NewScheduler creates an SLA scheduler. alerter may be nil.
func NewScheduler(manager CaseManager, alerter Alerter, config Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.AlertChannel == "" {
		config.AlertChannel = notify.ChannelInApp
	}
	logger = logger.With("component", "sla.scheduler")
	return &Scheduler{
		manager: manager,
		alerter: alerter,
		config:  config,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		logger: logger,
		now:    time.Now,
	}
}

// SetRecorder attaches a sweep recorder.
func (s *Scheduler) SetRecorder(r Recorder) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	s.recorder = r
}

// Start schedules sweeps until ctx is cancelled or Stop is called. A
// stopped scheduler can be started again; the sweep stays a single cron
// entry across restarts.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("sla schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if s.entry == 0 {
		if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
		}
		id, err := s.cron.AddFunc(s.config.Schedule, func() {
			s.runSweep(s.sweepContext())
		})
		if err != nil {
			return fmt.Errorf("failed to schedule sla sweep: %w", err)
		}
		s.entry = id
	}

	s.ctxMu.Lock()
	s.runCtx = ctx
	s.ctxMu.Unlock()

	s.cron.Start()
	s.running = true
	s.stopped = make(chan struct{})
	s.logger.Info("sla scheduler started", "schedule", s.config.Schedule)

	go func(stopped <-chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopped:
		}
	}(s.stopped)

	return nil
}

func (s *Scheduler) sweepContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

func (s *Scheduler) runSweep(ctx context.Context) {
	result, err := s.RunAutoEscalate(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("sla sweep aborted", "error", err)
		return
	}
	if result.Escalated > 0 || result.Warned > 0 || result.Failed > 0 {
		s.logger.Info("sla sweep completed",
			"scanned", result.Scanned,
			"escalated", result.Escalated,
			"warned", result.Warned,
			"failed", result.Failed,
		)
	} else {
		s.logger.Debug("sla sweep completed, nothing due", "scanned", result.Scanned)
	}
}

// RunAutoEscalate performs one sweep at now. Per-case failures are counted
// and logged without stopping the sweep; only a failure to read the SLA
// index or a cancelled context aborts it.
func (s *Scheduler) RunAutoEscalate(ctx context.Context, now time.Time) (SweepResult, error) {
	result := SweepResult{StartedAt: now}
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		s.recMu.RLock()
		r := s.recorder
		s.recMu.RUnlock()
		if r != nil {
			r.RecordSweep(result)
		}
	}()

	due, err := s.manager.DueCases(ctx, now.Add(s.manager.SLA().AtRiskWindow))
	if err != nil {
		return result, fmt.Errorf("failed to read sla index: %w", err)
	}

	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		if now.After(c.SLADeadline) {
			escalated, err := s.manager.AutoEscalate(ctx, c.CaseNumber, now)
			if err != nil {
				s.fail(&result, c.CaseNumber, err)
				continue
			}
			if escalated {
				result.Escalated++
				s.alert(ctx, c, now, "SLA breached",
					fmt.Sprintf("Case %s passed its SLA deadline %s and was escalated",
						c.CaseNumber, c.SLADeadline.Format(time.RFC3339)))
			}
			continue
		}

		updated, warned, err := s.manager.WarnAtRisk(ctx, c.CaseNumber, now)
		if err != nil {
			s.fail(&result, c.CaseNumber, err)
			continue
		}
		if warned {
			result.Warned++
			s.alert(ctx, updated, now, "SLA at risk",
				fmt.Sprintf("Case %s is due at %s", updated.CaseNumber, updated.SLADeadline.Format(time.RFC3339)))
		}
	}
	return result, nil
}

func (s *Scheduler) fail(result *SweepResult, caseNumber string, err error) {
	serr := &faults.SLASchedulerError{CaseNumber: caseNumber, Cause: err}
	result.Failed++
	result.Errors = append(result.Errors, serr)
	s.logger.Error("sla sweep failed for case", "case_number", caseNumber, "error", err)
}

func (s *Scheduler) alert(ctx context.Context, c *cases.Case, now time.Time, subject, message string) {
	if s.alerter == nil || c == nil {
		return
	}
	err := s.alerter.SendAlert(ctx, notify.Alert{
		Channel:    s.config.AlertChannel,
		Recipients: s.config.AlertRecipients,
		Subject:    subject,
		Message:    message,
		Severity:   c.Severity,
		VendorID:   c.VendorID,
		PolicyID:   c.PolicyID,
		CaseNumber: c.CaseNumber,
		RaisedAt:   now,
	})
	if err != nil {
		s.logger.Warn("failed to send sla alert", "case_number", c.CaseNumber, "error", err)
	}
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		close(s.stopped)
		s.logger.Info("sla scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
