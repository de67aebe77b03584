package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/warden/pkg/facts"
)

// EvaluationObserver is told about every policy decision, typically for metrics.
type EvaluationObserver interface {
	PolicyEvaluated(policyID string, matched bool)
	EvaluationCompleted(duration time.Duration)
}

// Evaluation is the outcome of evaluating one vendor against a snapshot.
type Evaluation struct {
	VendorID        string             `json:"vendorId"`
	SnapshotVersion string             `json:"snapshotVersion"`
	EvaluatedAt     time.Time          `json:"evaluatedAt"`
	Candidates      int                `json:"candidates"`
	Matches         []MatchedPolicy    `json:"-"`
	Executions      []*PolicyExecution `json:"executions,omitempty"`
	Duration        time.Duration      `json:"duration"`
}

// MatchedIDs returns the matched policy IDs in evaluation order.
func (e *Evaluation) MatchedIDs() []string {
	out := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		out[i] = m.Policy.ID
	}
	return out
}

// Engine ties the matcher and the executor together. Matching is pure and
// works on the snapshot it is given; only execution has side effects.
type Engine struct {
	matcher  *Matcher
	executor *Executor
	observer EvaluationObserver
	logger   *slog.Logger
}

// New creates an engine. executor may be nil for match-only use.
func New(matcher *Matcher, executor *Executor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if matcher == nil {
		matcher = NewMatcher(logger, nil)
	}
	return &Engine{
		matcher:  matcher,
		executor: executor,
		logger:   logger.With("component", "policy.engine"),
	}
}

// SetObserver attaches an evaluation observer.
func (e *Engine) SetObserver(o EvaluationObserver) {
	e.observer = o
}

// Matcher returns the engine's matcher.
func (e *Engine) Matcher() *Matcher {
	return e.matcher
}

// Evaluate matches the vendor's facts against the snapshot and, when
// execute is set, runs the matched policies' actions.
func (e *Engine) Evaluate(ctx context.Context, snapshot *Snapshot, vendorID string, fs Facts, event *facts.Event, now time.Time, execute bool) *Evaluation {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "policy.evaluate")
	defer span.End()

	matches := e.matcher.Match(snapshot, fs, now)

	eval := &Evaluation{
		VendorID:        vendorID,
		SnapshotVersion: snapshot.Version(),
		EvaluatedAt:     now,
		Matches:         matches,
	}

	matched := make(map[string]bool, len(matches))
	for _, m := range matches {
		matched[m.Policy.ID] = true
	}
	for _, p := range snapshot.policies {
		if !p.Evaluable(now) {
			continue
		}
		eval.Candidates++
		if e.observer != nil {
			e.observer.PolicyEvaluated(p.ID, matched[p.ID])
		}
	}

	span.SetAttributes(
		attribute.String("vendor.id", vendorID),
		attribute.String("policy.snapshot", snapshot.Version()),
		attribute.Int("policy.candidates", eval.Candidates),
		attribute.Int("policy.matches", len(matches)),
	)

	if execute && e.executor != nil && len(matches) > 0 {
		eval.Executions = e.executor.ExecuteMatches(ctx, vendorID, matches, event, now)
	}

	eval.Duration = time.Since(start)
	if e.observer != nil {
		e.observer.EvaluationCompleted(eval.Duration)
	}

	e.logger.Debug("vendor evaluated",
		"vendor_id", vendorID,
		"snapshot", snapshot.Version(),
		"candidates", eval.Candidates,
		"matched", len(matches),
		"executed", execute,
	)
	return eval
}
