package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/lock"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/validator"
)

// DefaultMaxAttempts bounds optimistic write retries.
const DefaultMaxAttempts = 3

// References tells whether a policy is still referenced by a case audit
// trail. *cases.Manager satisfies it.
type References interface {
	PolicyReferenced(ctx context.Context, policyID string) (bool, error)
}

// Registry stores policy definitions and drives their authoring workflow:
// draft, pending_approval, approved or rejected, with activation allowed
// only for approved content. Every content edit bumps Version, returns the
// policy to draft and deactivates it.
type Registry struct {
	store       Store
	locker      lock.Locker
	validator   *validator.Validator
	refs        References
	logger      *slog.Logger
	now         func() time.Time
	fourEyes    bool
	maxAttempts int
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLocker serializes writes to one policy across processes.
func WithLocker(l lock.Locker) Option {
	return func(r *Registry) { r.locker = l }
}

// WithValidator replaces the default validator.
func WithValidator(v *validator.Validator) Option {
	return func(r *Registry) { r.validator = v }
}

// WithReferences lets Delete keep policies that cases still point at.
func WithReferences(refs References) Option {
	return func(r *Registry) { r.refs = refs }
}

// RequireDistinctApprover rejects approvals by the policy's last editor.
func RequireDistinctApprover(on bool) Option {
	return func(r *Registry) { r.fourEyes = on }
}

// New creates a policy registry.
func New(store Store, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:       store,
		locker:      lock.NewKeyedMutex(),
		validator:   validator.New(validator.DefaultLimits()),
		logger:      logger.With("component", "policy.registry"),
		now:         time.Now,
		fourEyes:    true,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) clock() time.Time {
	return r.now().UTC()
}

func requireActor(id, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return faults.NewValidationError("policy", id, "actor is required")
	}
	return nil
}

// Create stores a new draft policy. An empty ID is generated.
func (r *Registry) Create(ctx context.Context, in *model.Policy, actor string) (*model.Policy, error) {
	if in == nil {
		return nil, faults.NewValidationError("policy", "", "policy is required")
	}
	if err := requireActor(in.ID, actor); err != nil {
		return nil, err
	}

	now := r.clock()
	p := in.Clone()
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.EffectiveFrom.IsZero() {
		p.EffectiveFrom = now
	}
	p.IsActive = false
	p.Archived = false
	p.ApprovalState = model.ApprovalDraft
	p.Version = 1
	p.Revision = 1
	p.CreatedBy = actor
	p.UpdatedBy = actor
	p.ApprovedBy = ""
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := r.validator.Normalize(p); err != nil {
		return nil, err
	}
	if err := r.store.CreatePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}
	r.recordVersion(ctx, p, actor, "created")

	r.logger.Info("policy created",
		"policy_id", p.ID,
		"name", p.Name,
		"priority", p.Priority,
		"actor", actor,
	)
	return p.Clone(), nil
}

// Update replaces a policy's content. expectedVersion guards against
// overwriting an edit the caller has not seen; zero skips the check.
// Submitting identical content changes nothing.
func (r *Registry) Update(ctx context.Context, id string, in *model.Policy, expectedVersion int, actor string) (*model.Policy, error) {
	if in == nil {
		return nil, faults.NewValidationError("policy", id, "policy is required")
	}
	if err := requireActor(id, actor); err != nil {
		return nil, err
	}

	candidate := in.Clone()
	candidate.ID = id
	candidate.IsActive = false
	candidate.ApprovalState = model.ApprovalDraft
	if err := r.validator.Normalize(candidate); err != nil {
		return nil, err
	}

	p, changed, err := r.mutate(ctx, id, func(p *model.Policy, now time.Time) (bool, error) {
		if p.Archived {
			return false, faults.ErrPolicyArchived
		}
		if expectedVersion > 0 && p.Version != expectedVersion {
			return false, &faults.ConcurrencyConflictError{
				Entity:   "policy",
				ID:       id,
				Expected: int64(expectedVersion),
				Actual:   int64(p.Version),
			}
		}
		if candidate.EffectiveFrom.IsZero() {
			candidate.EffectiveFrom = p.EffectiveFrom
		}
		if sameContent(p, candidate) {
			return false, nil
		}
		p.Name = candidate.Name
		p.Description = candidate.Description
		p.Category = candidate.Category
		p.Priority = candidate.Priority
		p.EffectiveFrom = candidate.EffectiveFrom
		p.Conditions = candidate.Conditions
		p.Actions = candidate.Actions
		p.Version++
		p.ApprovalState = model.ApprovalDraft
		p.IsActive = false
		p.ApprovedBy = ""
		p.UpdatedBy = actor
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		r.recordVersion(ctx, p, actor, "updated")
		r.logger.Info("policy updated", "policy_id", id, "version", p.Version, "actor", actor)
	}
	return p, nil
}

// Submit asks for approval of a draft or rejected policy.
func (r *Registry) Submit(ctx context.Context, id, actor string) (*model.Policy, error) {
	if err := requireActor(id, actor); err != nil {
		return nil, err
	}
	p, _, err := r.mutate(ctx, id, func(p *model.Policy, now time.Time) (bool, error) {
		if p.Archived {
			return false, faults.ErrPolicyArchived
		}
		switch p.ApprovalState {
		case model.ApprovalPendingApproval:
			return false, nil
		case model.ApprovalDraft, model.ApprovalRejected:
		default:
			return false, fmt.Errorf("%w: cannot submit a policy in state %s", faults.ErrInvalidTransition, p.ApprovalState)
		}
		verr := &faults.ValidationError{Entity: "policy", ID: id}
		if len(p.Conditions) == 0 {
			verr.Add("policy needs at least one condition to be submitted")
		}
		if len(p.Actions) == 0 {
			verr.Add("policy needs at least one action to be submitted")
		}
		if err := verr.OrNil(); err != nil {
			return false, err
		}
		p.ApprovalState = model.ApprovalPendingApproval
		return true, nil
	})
	if err == nil {
		r.logger.Info("policy submitted for approval", "policy_id", id, "actor", actor)
	}
	return p, err
}

// Approve approves a pending policy. With four-eyes approval on, the last
// editor cannot approve their own content.
func (r *Registry) Approve(ctx context.Context, id, actor string) (*model.Policy, error) {
	if err := requireActor(id, actor); err != nil {
		return nil, err
	}
	p, changed, err := r.mutate(ctx, id, func(p *model.Policy, now time.Time) (bool, error) {
		if p.Archived {
			return false, faults.ErrPolicyArchived
		}
		switch p.ApprovalState {
		case model.ApprovalApproved:
			return false, nil
		case model.ApprovalPendingApproval:
		default:
			return false, fmt.Errorf("%w: cannot approve a policy in state %s", faults.ErrInvalidTransition, p.ApprovalState)
		}
		if r.fourEyes && p.UpdatedBy == actor {
			return false, faults.NewValidationError("policy", id, "approver must differ from the last editor")
		}
		p.ApprovalState = model.ApprovalApproved
		p.ApprovedBy = actor
		return true, nil
	})
	if err == nil && changed {
		r.logger.Info("policy approved", "policy_id", id, "version", p.Version, "actor", actor)
	}
	return p, err
}

// Reject sends a pending policy back to its author.
func (r *Registry) Reject(ctx context.Context, id, actor, reason string) (*model.Policy, error) {
	if err := requireActor(id, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, faults.NewValidationError("policy", id, "rejection reason is required")
	}
	p, _, err := r.mutate(ctx, id, func(p *model.Policy, now time.Time) (bool, error) {
		if p.ApprovalState != model.ApprovalPendingApproval {
			return false, fmt.Errorf("%w: cannot reject a policy in state %s", faults.ErrInvalidTransition, p.ApprovalState)
		}
		p.ApprovalState = model.ApprovalRejected
		return true, nil
	})
	if err == nil {
		r.logger.Info("policy rejected", "policy_id", id, "actor", actor, "reason", reason)
	}
	return p, err
}

// Activate turns an approved policy on.
func (r *Registry) Activate(ctx context.Context, id, actor string) (*model.Policy, error) {
	if err := requireActor(id, actor); err != nil {
		return nil, err
	}
	p, changed, err := r.mutate(ctx, id, func(p *model.Policy, now time.Time) (bool, error) {
		if p.Archived {
			return false, faults.ErrPolicyArchived
		}
		if p.IsActive {
			return false, nil
		}
		if err := validator.ValidateActivation(p); err != nil {
			return false, err
		}
		p.IsActive = true
		return true, nil
	})
	if err == nil && changed {
		r.logger.Info("policy activated", "policy_id", id, "actor", actor)
	}
	return p, err
}

// Deactivate turns a policy off. It is reversible with Activate.
func (r *Registry) Deactivate(ctx context.Context, id, actor string) (*model.Policy, error) {
	if err := requireActor(id, actor); err != nil {
		return nil, err
	}
	p, changed, err := r.mutate(ctx, id, func(p *model.Policy, now time.Time) (bool, error) {
		if !p.IsActive {
			return false, nil
		}
		p.IsActive = false
		return true, nil
	})
	if err == nil && changed {
		r.logger.Info("policy deactivated", "policy_id", id, "actor", actor)
	}
	return p, err
}

// Clone copies a policy's content into a new draft.
func (r *Registry) Clone(ctx context.Context, id, actor string) (*model.Policy, error) {
	src, err := r.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := src.Clone()
	cp.ID = ""
	cp.Name = src.Name + " (copy)"
	cp.EffectiveFrom = time.Time{}
	return r.Create(ctx, cp, actor)
}

// Archive deactivates a policy and hides it from listings and evaluation.
func (r *Registry) Archive(ctx context.Context, id, actor string) (*model.Policy, error) {
	if err := requireActor(id, actor); err != nil {
		return nil, err
	}
	p, changed, err := r.mutate(ctx, id, func(p *model.Policy, now time.Time) (bool, error) {
		if p.Archived {
			return false, nil
		}
		p.Archived = true
		p.IsActive = false
		return true, nil
	})
	if err == nil && changed {
		r.logger.Info("policy archived", "policy_id", id, "actor", actor)
	}
	return p, err
}

// Delete removes a policy, or archives it when a case still references it.
// Without a References checker every policy counts as referenced. It
// reports whether the policy was archived instead of removed.
func (r *Registry) Delete(ctx context.Context, id, actor string) (bool, error) {
	if err := requireActor(id, actor); err != nil {
		return false, err
	}
	if _, err := r.store.GetPolicy(ctx, id); err != nil {
		return false, err
	}
	referenced := r.refs == nil
	if r.refs != nil {
		var err error
		referenced, err = r.refs.PolicyReferenced(ctx, id)
		if err != nil {
			return false, fmt.Errorf("failed to check policy references: %w", err)
		}
	}
	if referenced {
		_, err := r.Archive(ctx, id, actor)
		return err == nil, err
	}

	unlock, err := r.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return false, err
	}
	defer unlock()
	if err := r.store.DeletePolicy(ctx, id); err != nil {
		return false, err
	}
	r.logger.Info("policy deleted", "policy_id", id, "actor", actor)
	return false, nil
}

// Get returns a policy by ID.
func (r *Registry) Get(ctx context.Context, id string) (*model.Policy, error) {
	return r.store.GetPolicy(ctx, id)
}

// List returns policies matching f in (priority, id) order.
func (r *Registry) List(ctx context.Context, f Filter) ([]*model.Policy, error) {
	return r.store.ListPolicies(ctx, f)
}

// Versions returns a policy's content history, oldest first.
func (r *Registry) Versions(ctx context.Context, id string) ([]PolicyVersion, error) {
	if _, err := r.store.GetPolicy(ctx, id); err != nil {
		return nil, err
	}
	return r.store.ListVersions(ctx, id)
}

// Snapshot captures the active policies for one evaluation. Later edits
// never affect a snapshot already taken.
func (r *Registry) Snapshot(ctx context.Context) (*engine.Snapshot, error) {
	ps, err := r.store.ListPolicies(ctx, Filter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return engine.NewSnapshot(ps, r.clock()), nil
}

// Stats summarizes the stored policies.
type Stats struct {
	Policies        int    `json:"policies"`
	Active          int    `json:"active"`
	PendingApproval int    `json:"pendingApproval"`
	Archived        int    `json:"archived"`
	SnapshotVersion string `json:"snapshotVersion"`
}

// Stats returns counts by state and the current snapshot version.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	ps, err := r.store.ListPolicies(ctx, Filter{IncludeArchived: true})
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	var active []*model.Policy
	for _, p := range ps {
		s.Policies++
		if p.Archived {
			s.Archived++
		}
		if p.IsActive {
			s.Active++
			active = append(active, p)
		}
		if p.ApprovalState == model.ApprovalPendingApproval {
			s.PendingApproval++
		}
	}
	s.SnapshotVersion = engine.NewSnapshot(active, r.clock()).Version()
	return s, nil
}

type mutateFunc func(p *model.Policy, now time.Time) (bool, error)

func lockKey(id string) string {
	return "policy:" + id
}

// mutate applies fn under the policy lock, retrying on revision conflicts.
func (r *Registry) mutate(ctx context.Context, id string, fn mutateFunc) (*model.Policy, bool, error) {
	unlock, err := r.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		current, err := r.store.GetPolicy(ctx, id)
		if err != nil {
			return nil, false, err
		}
		next := current.Clone()
		now := r.clock()
		changed, err := fn(next, now)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return current, false, nil
		}
		next.UpdatedAt = now
		err = r.store.UpdatePolicy(ctx, next, current.Revision)
		if err == nil {
			return next.Clone(), true, nil
		}
		var conflict *faults.ConcurrencyConflictError
		if !errors.As(err, &conflict) {
			return nil, false, fmt.Errorf("failed to update policy: %w", err)
		}
		lastErr = err
		r.logger.Debug("policy write conflict, retrying", "policy_id", id, "attempt", attempt+1)
	}
	return nil, false, lastErr
}

func (r *Registry) recordVersion(ctx context.Context, p *model.Policy, actor, note string) {
	err := r.store.AppendVersion(ctx, PolicyVersion{
		PolicyID:  p.ID,
		Version:   p.Version,
		Policy:    p,
		ChangedBy: actor,
		Note:      note,
		CreatedAt: p.UpdatedAt,
	})
	if err != nil {
		r.logger.Error("failed to record policy version",
			"policy_id", p.ID,
			"version", p.Version,
			"error", err,
		)
	}
}

// content is the part of a policy that approval covers.
type content struct {
	Name          string
	Description   string
	Category      model.Category
	Priority      int
	EffectiveFrom time.Time
	Conditions    []model.Condition
	Actions       []model.Action
}

func contentOf(p *model.Policy) content {
	return content{
		Name:          p.Name,
		Description:   p.Description,
		Category:      p.Category,
		Priority:      p.Priority,
		EffectiveFrom: p.EffectiveFrom.UTC(),
		Conditions:    p.Conditions,
		Actions:       p.Actions,
	}
}

// sameContent compares the approved parts of two policies by their JSON
// encoding, which is how they are stored.
func sameContent(a, b *model.Policy) bool {
	ja, errA := json.Marshal(contentOf(a))
	jb, errB := json.Marshal(contentOf(b))
	if errA != nil || errB != nil {
		return reflect.DeepEqual(contentOf(a), contentOf(b))
	}
	return string(ja) == string(jb)
}
