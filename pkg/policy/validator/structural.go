package validator

import (
	"strings"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

// validateStructure checks the policy-level fields.
func (v *Validator) validateStructure(p *model.Policy, verr *faults.ValidationError) {
	if strings.TrimSpace(p.Name) == "" {
		verr.Add("name is required")
	}
	if !p.Category.IsValid() {
		verr.Add("category %q is not one of compliance, risk, operational", p.Category)
	}
	if p.Priority < 0 {
		verr.Add("priority must not be negative")
	}
	if p.ApprovalState != "" && !p.ApprovalState.IsValid() {
		verr.Add("approval state %q is unknown", p.ApprovalState)
	}
	if len(p.Conditions) > v.limits.MaxConditions {
		verr.Add("too many conditions: %d (max %d)", len(p.Conditions), v.limits.MaxConditions)
	}
	if len(p.Actions) > v.limits.MaxActions {
		verr.Add("too many actions: %d (max %d)", len(p.Actions), v.limits.MaxActions)
	}
	if p.IsActive {
		if p.ApprovalState != model.ApprovalApproved {
			verr.Add("active policies must be approved")
		}
		if len(p.Conditions) == 0 || len(p.Actions) == 0 {
			verr.Add("active policies need at least one condition and one action")
		}
	}
}
