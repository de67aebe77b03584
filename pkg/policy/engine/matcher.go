package engine

import (
	"log/slog"
	"time"

	"mercator-hq/warden/pkg/policy/model"
)

// Matcher decides which policies of a snapshot fire for a fact set.
type Matcher struct {
	logger    *slog.Logger
	evaluator *Evaluator
}

// NewMatcher creates a policy matcher. A nil evaluator uses NewEvaluator.
func NewMatcher(logger *slog.Logger, evaluator *Evaluator) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = NewEvaluator()
	}
	return &Matcher{
		logger:    logger.With("component", "policy.matcher"),
		evaluator: evaluator,
	}
}

// Match returns every evaluable policy of the snapshot whose conditions hold,
// in ascending (priority, id) order. Condition errors make that condition
// false and are kept on the trace; they never stop the evaluation.
func (m *Matcher) Match(snapshot *Snapshot, facts Facts, now time.Time) []MatchedPolicy {
	var matches []MatchedPolicy
	for _, p := range snapshot.policies {
		if !p.Evaluable(now) {
			continue
		}
		matched, trace := m.fold(p, facts, now, true)
		if !matched {
			continue
		}
		matches = append(matches, MatchedPolicy{
			Policy:    p.Clone(),
			MatchedAt: now,
			Trace:     trace,
		})
	}
	// Snapshots are already sorted; this keeps Match correct for
	// hand-built snapshots too.
	SortMatches(matches)
	return matches
}

// MatchPolicy reports whether a single policy's conditions hold, ignoring
// its activation state.
func (m *Matcher) MatchPolicy(p *model.Policy, facts Facts, now time.Time) bool {
	matched, _ := m.fold(p, facts, now, true)
	return matched
}

// Explain evaluates every condition of p without short-circuiting and
// reports each outcome. Matched equals the short-circuit fold.
func (m *Matcher) Explain(p *model.Policy, facts Facts, now time.Time) *TestResult {
	matched, trace := m.fold(p, facts, now, false)
	return &TestResult{
		PolicyID:    p.ID,
		Matched:     matched,
		Evaluable:   p.Evaluable(now),
		Evaluations: trace,
		EvaluatedAt: now,
	}
}

// fold combines the conditions strictly left to right:
//
//	acc = c0
//	acc = acc AND ci   (when ci is joined by AND, the default)
//	acc = acc OR ci    (when ci is joined by OR)
//
// There is no precedence: "A OR B AND C" means "(A OR B) AND C". A policy
// with no conditions never matches. With shortCircuit set, a condition whose
// outcome cannot change acc is not evaluated.
func (m *Matcher) fold(p *model.Policy, facts Facts, now time.Time, shortCircuit bool) (bool, []ConditionTrace) {
	if len(p.Conditions) == 0 {
		return false, nil
	}

	trace := make([]ConditionTrace, 0, len(p.Conditions))
	var acc bool
	for i, cond := range p.Conditions {
		op := cond.LogicalOperator
		if i > 0 && shortCircuit {
			if op == model.LogicalOr && acc {
				continue
			}
			if op != model.LogicalOr && !acc {
				continue
			}
		}

		passed, err := m.evaluator.Evaluate(cond, facts, now)
		t := ConditionTrace{
			Index:    i,
			Field:    cond.Field,
			Operator: cond.Operator,
			Value:    cond.Value,
			Passed:   passed && err == nil,
		}
		if err != nil {
			cerr := &ConditionError{PolicyID: p.ID, Index: i, Field: cond.Field, Cause: err}
			t.Error = cerr.Error()
			m.logger.Debug("condition evaluation failed", "error", cerr)
		}
		trace = append(trace, t)

		switch {
		case i == 0:
			acc = t.Passed
		case op == model.LogicalOr:
			acc = acc || t.Passed
		default:
			acc = acc && t.Passed
		}
	}
	return acc, trace
}
