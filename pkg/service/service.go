package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/cases/sla"
	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/registry"
	"mercator-hq/warden/pkg/vendor"
)

const tracerName = "mercator-hq/warden/pkg/service"

// DefaultWorkers bounds concurrent vendor evaluations in EvaluateVendors.
const DefaultWorkers = 4

// FailureLister reads back actions that failed outside any case.
type FailureLister interface {
	ListFailures(ctx context.Context, vendorID string) ([]engine.ActionFailure, error)
}

// Dependencies are the collaborators a Service is built from. Scheduler
// and Failures are optional.
type Dependencies struct {
	Facts     *facts.Adapter
	Vendors   *vendor.Profiles
	Policies  *registry.Registry
	Engine    *engine.Engine
	Cases     *cases.Manager
	Scheduler *sla.Scheduler
	Failures  FailureLister
}

// Config controls the service.
type Config struct {
	// Workers bounds concurrent vendor evaluations.
	// Default: 4.
	Workers int
}

// Service implements the compliance operations.
type Service struct {
	facts     *facts.Adapter
	vendors   *vendor.Profiles
	policies  *registry.Registry
	engine    *engine.Engine
	cases     *cases.Manager
	scheduler *sla.Scheduler
	failures  FailureLister
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service. Without a scheduler, manual sweeps run on a
// scheduler that is never started.
func New(deps Dependencies, config Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	var missing []string
	if deps.Facts == nil {
		missing = append(missing, "facts")
	}
	if deps.Vendors == nil {
		missing = append(missing, "vendors")
	}
	if deps.Policies == nil {
		missing = append(missing, "policies")
	}
	if deps.Engine == nil {
		missing = append(missing, "engine")
	}
	if deps.Cases == nil {
		missing = append(missing, "cases")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("service: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if deps.Scheduler == nil {
		deps.Scheduler = sla.NewScheduler(deps.Cases, nil, sla.Config{}, logger)
	}

	s := &Service{
		facts:     deps.Facts,
		vendors:   deps.Vendors,
		policies:  deps.Policies,
		engine:    deps.Engine,
		cases:     deps.Cases,
		scheduler: deps.Scheduler,
		failures:  deps.Failures,
		config:    config,
		logger:    logger.With("component", "service"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Policies returns the policy registry.
func (s *Service) Policies() *registry.Registry {
	return s.policies
}

// Cases returns the case manager.
func (s *Service) Cases() *cases.Manager {
	return s.cases
}

// Vendors returns the vendor profile service.
func (s *Service) Vendors() *vendor.Profiles {
	return s.vendors
}

// IngestResult is the outcome of ingesting one signal.
type IngestResult struct {
	Event *facts.Event `json:"event"`

	// ReopenedCase is the case reopened by this evidence, if any.
	ReopenedCase string `json:"reopenedCase,omitempty"`

	// ReopenRefused explains why the referenced case was not reopened.
	ReopenRefused string `json:"reopenRefused,omitempty"`

	Evaluation *EvaluationReport `json:"evaluation"`
}

// IngestSignal records a signal, reopens the case it references when that
// is still allowed, and evaluates and executes the vendor's policies.
func (s *Service) IngestSignal(ctx context.Context, sig facts.Signal) (*IngestResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "service.ingest_signal")
	defer span.End()

	event, err := s.facts.Record(ctx, sig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record signal")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.EventType),
		attribute.String("vendor.id", event.VendorID),
	)

	result := &IngestResult{Event: event}
	if event.CaseRef != "" {
		s.reopen(ctx, event, result)
	}

	report, err := s.evaluate(ctx, event.VendorID, event, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluate")
		return nil, fmt.Errorf("event %s recorded but evaluation failed: %w", event.ID, err)
	}
	result.Evaluation = report

	s.logger.Info("signal ingested",
		"event_id", event.ID,
		"event_type", event.EventType,
		"vendor_id", event.VendorID,
		"matched", len(report.Matched),
		"reopened_case", result.ReopenedCase,
	)
	return result, nil
}

// reopen tries to reopen the case an event is evidence for. A refusal is
// not an error: the event still stands and evaluation may open a new case.
func (s *Service) reopen(ctx context.Context, event *facts.Event, result *IngestResult) {
	c, err := s.cases.ReopenCase(ctx, event.CaseRef, event, cases.System)
	switch {
	case err == nil:
		result.ReopenedCase = c.CaseNumber
	case errors.Is(err, faults.ErrReopenNotAllowed), faults.IsNotFound(err):
		result.ReopenRefused = err.Error()
		s.logger.Info("referenced case not reopened",
			"case_number", event.CaseRef,
			"event_id", event.ID,
			"reason", err,
		)
	default:
		result.ReopenRefused = err.Error()
		s.logger.Warn("failed to reopen referenced case",
			"case_number", event.CaseRef,
			"event_id", event.ID,
			"error", err,
		)
	}
}

// VendorFacts assembles the fact set a vendor is evaluated against: the
// projection of its events, its profile, and its case history.
func (s *Service) VendorFacts(ctx context.Context, vendorID string) (facts.FactSet, error) {
	fs, err := s.facts.Snapshot(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	profile, err := s.vendors.Get(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for vendor %s: %w", vendorID, err)
	}
	fs.Merge(profile.Facts())

	history, err := s.cases.VendorHistory(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case history for vendor %s: %w", vendorID, err)
	}
	fs.Merge(history)
	return fs, nil
}

// ListFailures returns actions that failed outside any case. An empty
// vendorID lists every vendor's failures.
func (s *Service) ListFailures(ctx context.Context, vendorID string) ([]engine.ActionFailure, error) {
	if s.failures == nil {
		return nil, nil
	}
	return s.failures.ListFailures(ctx, vendorID)
}
