package model

import (
	"time"
)

// Category classifies a policy.
type Category string

const (
	CategoryCompliance  Category = "compliance"
	CategoryRisk        Category = "risk"
	CategoryOperational Category = "operational"
)

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryCompliance, CategoryRisk, CategoryOperational:
		return true
	}
	return false
}

// ApprovalState is the authoring workflow state of a policy.
type ApprovalState string

const (
	ApprovalDraft           ApprovalState = "draft"
	ApprovalPendingApproval ApprovalState = "pending_approval"
	ApprovalApproved        ApprovalState = "approved"
	ApprovalRejected        ApprovalState = "rejected"
)

// IsValid reports whether s is a known approval state.
func (s ApprovalState) IsValid() bool {
	switch s {
	case ApprovalDraft, ApprovalPendingApproval, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Operator is a condition comparison operator.
type Operator string

const (
	OperatorEquals          Operator = "equals"
	OperatorNotEquals       Operator = "not_equals"
	OperatorGreaterThan     Operator = "greater_than"
	OperatorLessThan        Operator = "less_than"
	OperatorContains        Operator = "contains"
	OperatorNotContains     Operator = "not_contains"
	OperatorIn              Operator = "in"
	OperatorNotIn           Operator = "not_in"
	OperatorExists          Operator = "exists"
	OperatorIsExpired       Operator = "is_expired"
	OperatorDaysUntilExpiry Operator = "days_until_expiry"
)

// IsValid reports whether op is a known operator name.
func (op Operator) IsValid() bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorGreaterThan, OperatorLessThan,
		OperatorContains, OperatorNotContains, OperatorIn, OperatorNotIn,
		OperatorExists, OperatorIsExpired, OperatorDaysUntilExpiry:
		return true
	}
	return false
}

// LogicalOperator combines a condition with the result of the conditions before it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Transform derives a new value from the resolved field before comparison.
type Transform string

const (
	// TransformNone compares the field as resolved.
	TransformNone Transform = ""

	// TransformDaysUntilExpiry turns a date into whole days from now (negative once past).
	TransformDaysUntilExpiry Transform = "days_until_expiry"
)

// Severity ranks cases, events and alerts.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Tier is a coarse vendor risk classification.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// IsValid reports whether t is a known tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierLow, TierMedium, TierHigh, TierCritical:
		return true
	}
	return false
}

// TierForScore maps a 0-100 composite score (higher is healthier) to a tier.
func TierForScore(score float64) Tier {
	switch {
	case score >= 80:
		return TierLow
	case score >= 60:
		return TierMedium
	case score >= 40:
		return TierHigh
	default:
		return TierCritical
	}
}

// Condition is one comparison between a fact field and a literal.
type Condition struct {
	// Field is a dotted path into the field taxonomy.
	Field string `json:"field"`

	// Operator is the comparison operator.
	Operator Operator `json:"operator"`

	// Value is the literal compared against the field.
	Value Value `json:"value"`

	// LogicalOperator combines this condition with the previous result.
	// Ignored on the first condition.
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"`

	// Transform derives the compared value from the field.
	Transform Transform `json:"transform,omitempty"`
}

// Policy is an authored rule: ordered conditions and ordered actions.
type Policy struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Category      Category      `json:"category"`
	Priority      int           `json:"priority"`
	IsActive      bool          `json:"isActive"`
	EffectiveFrom time.Time     `json:"effectiveFrom"`
	Conditions    []Condition   `json:"conditions"`
	Actions       []Action      `json:"actions"`
	Version       int           `json:"version"`
	ApprovalState ApprovalState `json:"approvalState"`
	Archived      bool          `json:"archived,omitempty"`

	CreatedBy  string    `json:"createdBy,omitempty"`
	UpdatedBy  string    `json:"updatedBy,omitempty"`
	ApprovedBy string    `json:"approvedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	// Revision is bumped on every stored write and used for compare-and-swap.
	Revision int64 `json:"revision"`
}

// Evaluable reports whether the policy may take part in matching at now.
func (p *Policy) Evaluable(now time.Time) bool {
	return p.IsActive &&
		p.ApprovalState == ApprovalApproved &&
		!p.Archived &&
		!p.EffectiveFrom.After(now)
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Conditions = make([]Condition, len(p.Conditions))
	copy(cp.Conditions, p.Conditions)
	for i := range cp.Conditions {
		if items, ok := cp.Conditions[i].Value.AsList(); ok {
			cp.Conditions[i].Value = List(items...)
		}
	}
	cp.Actions = make([]Action, len(p.Actions))
	for i, a := range p.Actions {
		cp.Actions[i] = Action{Type: a.Type, Config: cloneConfig(a.Config)}
	}
	return &cp
}
