package engine

import (
	"time"

	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/policy/model"
)

// MatchedPolicy is a policy whose conditions held for a fact snapshot.
type MatchedPolicy struct {
	// Policy is the matched policy as captured by the snapshot.
	Policy *model.Policy

	// MatchedAt is the evaluation time.
	MatchedAt time.Time

	// Trace records each evaluated condition. Conditions skipped by
	// short-circuiting are absent.
	Trace []ConditionTrace
}

// ConditionTrace is the outcome of evaluating one condition.
type ConditionTrace struct {
	Index    int            `json:"index"`
	Field    string         `json:"field"`
	Operator model.Operator `json:"operator"`
	Value    model.Value    `json:"value"`
	Passed   bool           `json:"passed"`
	Error    string         `json:"error,omitempty"`
}

// TestResult is a dry-run report for one policy. Every condition is
// evaluated so authors see the full picture; Matched is the short-circuit
// fold and therefore identical to what Match would decide.
type TestResult struct {
	PolicyID    string           `json:"policyId,omitempty"`
	Matched     bool             `json:"matched"`
	Evaluable   bool             `json:"evaluable"`
	Evaluations []ConditionTrace `json:"evaluations"`
	EvaluatedAt time.Time        `json:"evaluatedAt"`
}

// ExecutionContext carries what an action needs beyond its own config.
type ExecutionContext struct {
	// VendorID is the vendor the policy matched for.
	VendorID string

	// Event is the triggering event, nil for on-demand evaluation.
	Event *facts.Event

	// Policy is the matched policy.
	Policy *model.Policy

	// CaseNumber is the case created or escalated earlier in the same
	// policy run. Actions after create_case operate on it.
	CaseNumber string

	// Now is the evaluation time.
	Now time.Time
}

// eventID returns the triggering event's ID, if any.
func (c *ExecutionContext) eventID() string {
	if c.Event == nil {
		return ""
	}
	return c.Event.ID
}

// policyID returns the matched policy's ID, if any.
func (c *ExecutionContext) policyID() string {
	if c.Policy == nil {
		return ""
	}
	return c.Policy.ID
}

// ActionResult represents the result of executing a single action.
type ActionResult struct {
	// ActionType is the type of action executed.
	ActionType model.ActionType `json:"actionType"`

	// PolicyID is the policy the action belongs to.
	PolicyID string `json:"policyId"`

	// Success indicates whether the action executed successfully.
	Success bool `json:"success"`

	// Err is the *faults.ActionExecutionError for failed actions.
	Err error `json:"-"`

	// Error is Err's message.
	Error string `json:"error,omitempty"`

	// Details contains action-specific details.
	Details map[string]interface{} `json:"details,omitempty"`

	// CaseNumber is the case the action created or touched, if any.
	CaseNumber string `json:"caseNumber,omitempty"`
}

// PolicyExecution groups the action results of one matched policy.
type PolicyExecution struct {
	PolicyID   string          `json:"policyId"`
	PolicyName string          `json:"policyName"`
	Priority   int             `json:"priority"`
	Results    []*ActionResult `json:"results"`
}

// Failed returns the results that did not succeed.
func (p *PolicyExecution) Failed() []*ActionResult {
	var out []*ActionResult
	for _, r := range p.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

// ActionFailure is a failed action recorded outside any case audit trail.
type ActionFailure struct {
	ID         string           `json:"id"`
	VendorID   string           `json:"vendorId"`
	PolicyID   string           `json:"policyId"`
	EventID    string           `json:"eventId,omitempty"`
	ActionType model.ActionType `json:"actionType"`
	Error      string           `json:"error"`
	OccurredAt time.Time        `json:"occurredAt"`
}
