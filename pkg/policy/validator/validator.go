package validator

import (
	"fmt"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

// Limits bounds the size of an authored policy.
type Limits struct {
	// MaxConditions is the maximum number of conditions per policy.
	MaxConditions int

	// MaxActions is the maximum number of actions per policy.
	MaxActions int
}

// DefaultLimits returns the default authoring limits.
func DefaultLimits() Limits {
	return Limits{MaxConditions: 50, MaxActions: 20}
}

// Validator runs the structural, condition and action passes over a policy.
// All passes run and their problems are returned together.
type Validator struct {
	limits Limits
}

// New creates a validator with the given limits. Zero limits use the defaults.
func New(limits Limits) *Validator {
	def := DefaultLimits()
	if limits.MaxConditions <= 0 {
		limits.MaxConditions = def.MaxConditions
	}
	if limits.MaxActions <= 0 {
		limits.MaxActions = def.MaxActions
	}
	return &Validator{limits: limits}
}

// Validate checks a policy without modifying it. It returns a
// *faults.ValidationError listing every problem, or nil.
func (v *Validator) Validate(p *model.Policy) error {
	if p == nil {
		return faults.NewValidationError("policy", "", "policy is required")
	}
	verr := &faults.ValidationError{Entity: "policy", ID: p.ID}
	v.validateStructure(p, verr)
	for i, cond := range p.Conditions {
		for _, problem := range conditionProblems(cond) {
			verr.AddError(fmt.Sprintf("conditions[%d]", i), problem)
		}
	}
	for i, action := range p.Actions {
		for _, problem := range actionProblems(action) {
			verr.Add("actions[%d]: %s", i, problem)
		}
	}
	return verr.OrNil()
}

// Normalize rewrites field expressions such as "daysUntilExpiry(insurance)"
// into a path plus transform, coerces literal values to the declared kind
// of their field, then validates. The policy is modified in place only when
// it is valid.
func (v *Validator) Normalize(p *model.Policy) error {
	if p == nil {
		return faults.NewValidationError("policy", "", "policy is required")
	}
	conds := make([]model.Condition, len(p.Conditions))
	for i, cond := range p.Conditions {
		conds[i] = normalizeCondition(cond)
	}

	candidate := *p
	candidate.Conditions = conds
	if err := v.Validate(&candidate); err != nil {
		return err
	}
	p.Conditions = conds
	return nil
}

// ValidateActivation checks the extra requirements for turning a policy on.
func ValidateActivation(p *model.Policy) error {
	verr := &faults.ValidationError{Entity: "policy", ID: p.ID}
	if p.ApprovalState != model.ApprovalApproved {
		verr.Add("policy must be approved before activation (state is %s)", p.ApprovalState)
	}
	if len(p.Conditions) == 0 {
		verr.Add("policy needs at least one condition to be activated")
	}
	if len(p.Actions) == 0 {
		verr.Add("policy needs at least one action to be activated")
	}
	if p.Archived {
		verr.Add("archived policies cannot be activated")
	}
	return verr.OrNil()
}

// NormalizeConditions applies the field and literal rewriting of Normalize
// without validating. It is used on policies read back from storage, where
// date literals come back as strings.
func NormalizeConditions(p *model.Policy) {
	if p == nil {
		return
	}
	for i, cond := range p.Conditions {
		p.Conditions[i] = normalizeCondition(cond)
	}
}
