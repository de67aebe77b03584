package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/validator"
)

// EvaluateOptions controls on-demand evaluation.
type EvaluateOptions struct {
	// Execute runs the matched policies' actions. Without it evaluation
	// only reports matches.
	Execute bool
}

// MatchedPolicy summarizes one matched policy.
type MatchedPolicy struct {
	PolicyID string                  `json:"policyId"`
	Name     string                  `json:"name"`
	Category model.Category          `json:"category"`
	Priority int                     `json:"priority"`
	Version  int                     `json:"version"`
	Trace    []engine.ConditionTrace `json:"trace"`
}

// EvaluationReport is the outcome of evaluating one vendor.
type EvaluationReport struct {
	VendorID        string                    `json:"vendorId"`
	SnapshotVersion string                    `json:"snapshotVersion,omitempty"`
	EvaluatedAt     time.Time                 `json:"evaluatedAt"`
	Candidates      int                       `json:"candidates"`
	Matched         []MatchedPolicy           `json:"matched"`
	Executions      []*engine.PolicyExecution `json:"executions,omitempty"`
	FailedActions   int                       `json:"failedActions"`
	Duration        time.Duration             `json:"duration"`

	// Error is set in batch results when the vendor could not be evaluated.
	Error string `json:"error,omitempty"`
}

// MatchedIDs returns the matched policy IDs in evaluation order.
func (r *EvaluationReport) MatchedIDs() []string {
	out := make([]string, len(r.Matched))
	for i, m := range r.Matched {
		out[i] = m.PolicyID
	}
	return out
}

func newReport(eval *engine.Evaluation) *EvaluationReport {
	r := &EvaluationReport{
		VendorID:        eval.VendorID,
		SnapshotVersion: eval.SnapshotVersion,
		EvaluatedAt:     eval.EvaluatedAt,
		Candidates:      eval.Candidates,
		Matched:         make([]MatchedPolicy, 0, len(eval.Matches)),
		Executions:      eval.Executions,
		Duration:        eval.Duration,
	}
	for _, m := range eval.Matches {
		r.Matched = append(r.Matched, MatchedPolicy{
			PolicyID: m.Policy.ID,
			Name:     m.Policy.Name,
			Category: m.Policy.Category,
			Priority: m.Policy.Priority,
			Version:  m.Policy.Version,
			Trace:    m.Trace,
		})
	}
	for _, run := range eval.Executions {
		r.FailedActions += len(run.Failed())
	}
	return r
}

// EvaluatePolicies evaluates a vendor against the active policies.
func (s *Service) EvaluatePolicies(ctx context.Context, vendorID string, opts EvaluateOptions) (*EvaluationReport, error) {
	if vendorID == "" {
		return nil, faults.NewValidationError("evaluation", "", "vendorId is required")
	}
	return s.evaluate(ctx, vendorID, nil, opts.Execute)
}

func (s *Service) evaluate(ctx context.Context, vendorID string, event *facts.Event, execute bool) (*EvaluationReport, error) {
	snapshot, err := s.policies.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy snapshot: %w", err)
	}
	return s.evaluateWith(ctx, snapshot, vendorID, event, execute)
}

func (s *Service) evaluateWith(ctx context.Context, snapshot *engine.Snapshot, vendorID string, event *facts.Event, execute bool) (*EvaluationReport, error) {
	fs, err := s.VendorFacts(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	eval := s.engine.Evaluate(ctx, snapshot, vendorID, fs, event, s.clock(), execute)
	return newReport(eval), nil
}

// EvaluateVendors evaluates several vendors against one policy snapshot on
// a bounded worker pool. An empty ids list evaluates every vendor with
// recorded events. A vendor that cannot be evaluated gets a report with
// Error set; the batch itself fails only when the snapshot or the vendor
// list cannot be read. Reports are ordered by vendor ID.
func (s *Service) EvaluateVendors(ctx context.Context, ids []string, opts EvaluateOptions) ([]*EvaluationReport, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "service.evaluate_vendors")
	defer span.End()

	if len(ids) == 0 {
		var err error
		ids, err = s.facts.Vendors(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list vendors: %w", err)
		}
	}
	ids = dedupe(ids)
	span.SetAttributes(attribute.Int("vendor.count", len(ids)))

	snapshot, err := s.policies.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy snapshot: %w", err)
	}

	reports := make([]*EvaluationReport, len(ids))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := s.config.Workers
	if workers > len(ids) {
		workers = len(ids)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report, err := s.evaluateWith(ctx, snapshot, ids[i], nil, opts.Execute)
				if err != nil {
					s.logger.Warn("vendor evaluation failed", "vendor_id", ids[i], "error", err)
					report = &EvaluationReport{VendorID: ids[i], EvaluatedAt: s.clock(), Error: err.Error()}
				}
				reports[i] = report
			}
		}()
	}

feed:
	for i := range ids {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("batch evaluation completed",
		"vendors", len(ids),
		"snapshot", snapshot.Version(),
		"executed", opts.Execute,
	)
	return reports, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TestPolicy dry-runs a stored policy against sample facts. Every
// condition is evaluated and reported. Nothing is recorded or executed,
// and the policy need not be active.
func (s *Service) TestPolicy(ctx context.Context, policyID string, sampleFacts map[string]interface{}) (*engine.TestResult, error) {
	p, err := s.policies.Get(ctx, policyID)
	if err != nil {
		return nil, err
	}
	fs, err := facts.FromRaw(sampleFacts)
	if err != nil {
		return nil, faults.NewValidationError("sample facts", policyID, err.Error())
	}
	return s.engine.Matcher().Explain(p, fs, s.clock()), nil
}

// TestPolicyDefinition dry-runs an unsaved policy definition. It is
// normalized and validated the way the registry would on create.
func (s *Service) TestPolicyDefinition(ctx context.Context, p *model.Policy, sampleFacts map[string]interface{}) (*engine.TestResult, error) {
	candidate := p.Clone()
	if err := validator.New(validator.DefaultLimits()).Normalize(candidate); err != nil {
		return nil, err
	}
	fs, err := facts.FromRaw(sampleFacts)
	if err != nil {
		return nil, faults.NewValidationError("sample facts", candidate.ID, err.Error())
	}
	return s.engine.Matcher().Explain(candidate, fs, s.clock()), nil
}
