package service

import (
	"context"

	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/registry"
)

// CreatePolicy stores a new draft policy.
func (s *Service) CreatePolicy(ctx context.Context, p *model.Policy, actor string) (*model.Policy, error) {
	return s.policies.Create(ctx, p, actor)
}

// UpdatePolicy replaces a policy's content. The policy returns to draft.
func (s *Service) UpdatePolicy(ctx context.Context, id string, p *model.Policy, expectedVersion int, actor string) (*model.Policy, error) {
	return s.policies.Update(ctx, id, p, expectedVersion, actor)
}

// SubmitPolicy sends a draft for approval.
func (s *Service) SubmitPolicy(ctx context.Context, id, actor string) (*model.Policy, error) {
	return s.policies.Submit(ctx, id, actor)
}

// ApprovePolicy approves a pending policy.
func (s *Service) ApprovePolicy(ctx context.Context, id, actor string) (*model.Policy, error) {
	return s.policies.Approve(ctx, id, actor)
}

// RejectPolicy rejects a pending policy.
func (s *Service) RejectPolicy(ctx context.Context, id, actor, reason string) (*model.Policy, error) {
	return s.policies.Reject(ctx, id, actor, reason)
}

// ActivatePolicy turns an approved policy on.
func (s *Service) ActivatePolicy(ctx context.Context, id, actor string) (*model.Policy, error) {
	return s.policies.Activate(ctx, id, actor)
}

// DeactivatePolicy turns a policy off.
func (s *Service) DeactivatePolicy(ctx context.Context, id, actor string) (*model.Policy, error) {
	return s.policies.Deactivate(ctx, id, actor)
}

// ClonePolicy copies a policy into a new draft.
func (s *Service) ClonePolicy(ctx context.Context, id, actor string) (*model.Policy, error) {
	return s.policies.Clone(ctx, id, actor)
}

// ArchivePolicy archives a policy.
func (s *Service) ArchivePolicy(ctx context.Context, id, actor string) (*model.Policy, error) {
	return s.policies.Archive(ctx, id, actor)
}

// DeletePolicy deletes a policy, or archives it when cases still refer to
// it. archived reports which happened.
func (s *Service) DeletePolicy(ctx context.Context, id, actor string) (archived bool, err error) {
	return s.policies.Delete(ctx, id, actor)
}

// GetPolicy returns a policy by ID.
func (s *Service) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	return s.policies.Get(ctx, id)
}

// ListPolicies returns policies matching f.
func (s *Service) ListPolicies(ctx context.Context, f registry.Filter) ([]*model.Policy, error) {
	return s.policies.List(ctx, f)
}

// PolicyVersions returns a policy's version history.
func (s *Service) PolicyVersions(ctx context.Context, id string) ([]registry.PolicyVersion, error) {
	return s.policies.Versions(ctx, id)
}
