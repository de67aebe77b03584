package registry

import (
	"context"
	"time"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/validator"
)

// ImportOutcome says what Import did with a policy document.
type ImportOutcome string

const (
	ImportCreated   ImportOutcome = "created"
	ImportUpdated   ImportOutcome = "updated"
	ImportUnchanged ImportOutcome = "unchanged"
)

// ImportResult is the outcome of importing one policy.
type ImportResult struct {
	Policy  *model.Policy `json:"policy"`
	Outcome ImportOutcome `json:"outcome"`
}

// Import upserts a policy by ID from an external definition such as a file.
// New content lands as a draft unless autoApprove is set, in which case it
// is approved and activated in one step; re-importing unchanged content
// leaves the policy as it is. autoApprove bypasses four-eyes
// approval and is meant for bootstrapping trusted policy directories.
func (r *Registry) Import(ctx context.Context, in *model.Policy, actor string, autoApprove bool) (*ImportResult, error) {
	if in == nil || in.ID == "" {
		return nil, faults.NewValidationError("policy", "", "imported policies need an id")
	}

	res := &ImportResult{}
	existing, err := r.store.GetPolicy(ctx, in.ID)
	switch {
	case faults.IsNotFound(err):
		p, err := r.Create(ctx, in, actor)
		if err != nil {
			return nil, err
		}
		res.Policy, res.Outcome = p, ImportCreated
	case err != nil:
		return nil, err
	default:
		before := existing.Version
		p, err := r.Update(ctx, in.ID, in, 0, actor)
		if err != nil {
			return nil, err
		}
		res.Policy, res.Outcome = p, ImportUnchanged
		if p.Version != before {
			res.Outcome = ImportUpdated
		}
	}

	// Unchanged content keeps whatever activation state an operator chose.
	if autoApprove && res.Outcome != ImportUnchanged && !res.Policy.IsActive {
		p, err := r.forceActivate(ctx, res.Policy.ID, actor)
		if err != nil {
			return nil, err
		}
		res.Policy = p
	}
	return res, nil
}

// forceActivate approves and activates a policy without the four-eyes check.
func (r *Registry) forceActivate(ctx context.Context, id, actor string) (*model.Policy, error) {
	p, _, err := r.mutate(ctx, id, func(p *model.Policy, now time.Time) (bool, error) {
		if p.Archived {
			return false, faults.ErrPolicyArchived
		}
		p.ApprovalState = model.ApprovalApproved
		p.ApprovedBy = actor
		if err := validator.ValidateActivation(p); err != nil {
			return false, err
		}
		p.IsActive = true
		return true, nil
	})
	if err == nil {
		r.logger.Info("imported policy auto-approved", "policy_id", id, "actor", actor)
	}
	return p, err
}
