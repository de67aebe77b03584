package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/model"
)

// PolicyVersion is the content of a policy as it was at one version.
type PolicyVersion struct {
	PolicyID  string        `json:"policyId"`
	Version   int           `json:"version"`
	Policy    *model.Policy `json:"policy"`
	ChangedBy string        `json:"changedBy"`
	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Filter narrows policy listings. Zero fields match everything except
// archived policies.
type Filter struct {
	Category        model.Category
	ApprovalState   model.ApprovalState
	ActiveOnly      bool
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Matches reports whether p passes the filter.
func (f Filter) Matches(p *model.Policy) bool {
	if p.Archived && !f.IncludeArchived {
		return false
	}
	if f.ActiveOnly && !p.IsActive {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.ApprovalState != "" && p.ApprovalState != f.ApprovalState {
		return false
	}
	return true
}

// Store persists policies and their version history.
type Store interface {
	// CreatePolicy inserts a new policy. An existing ID is a
	// *faults.ConcurrencyConflictError.
	CreatePolicy(ctx context.Context, p *model.Policy) error

	// GetPolicy returns a policy or a *faults.NotFoundError.
	GetPolicy(ctx context.Context, id string) (*model.Policy, error)

	// UpdatePolicy writes p if the stored revision equals expectedRevision.
	// On success p.Revision is expectedRevision+1.
	UpdatePolicy(ctx context.Context, p *model.Policy, expectedRevision int64) error

	// DeletePolicy removes a policy and its history.
	DeletePolicy(ctx context.Context, id string) error

	// ListPolicies returns matching policies ordered by (priority, id).
	ListPolicies(ctx context.Context, f Filter) ([]*model.Policy, error)

	// AppendVersion records a content version.
	AppendVersion(ctx context.Context, v PolicyVersion) error

	// ListVersions returns a policy's versions, oldest first.
	ListVersions(ctx context.Context, policyID string) ([]PolicyVersion, error)
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*model.Policy
	versions map[string][]PolicyVersion
}

// NewMemoryStore creates an empty policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*model.Policy),
		versions: make(map[string][]PolicyVersion),
	}
}

// CreatePolicy implements Store.
func (s *MemoryStore) CreatePolicy(ctx context.Context, p *model.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.policies[p.ID]; ok {
		return &faults.ConcurrencyConflictError{Entity: "policy", ID: p.ID, Expected: 0, Actual: existing.Revision}
	}
	s.policies[p.ID] = p.Clone()
	return nil
}

// GetPolicy implements Store.
func (s *MemoryStore) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, &faults.NotFoundError{Entity: "policy", ID: id}
	}
	return p.Clone(), nil
}

// UpdatePolicy implements Store.
func (s *MemoryStore) UpdatePolicy(ctx context.Context, p *model.Policy, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.policies[p.ID]
	if !ok {
		return &faults.NotFoundError{Entity: "policy", ID: p.ID}
	}
	if current.Revision != expectedRevision {
		return &faults.ConcurrencyConflictError{Entity: "policy", ID: p.ID, Expected: expectedRevision, Actual: current.Revision}
	}
	p.Revision = expectedRevision + 1
	s.policies[p.ID] = p.Clone()
	return nil
}

// DeletePolicy implements Store.
func (s *MemoryStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return &faults.NotFoundError{Entity: "policy", ID: id}
	}
	delete(s.policies, id)
	delete(s.versions, id)
	return nil
}

// ListPolicies implements Store.
func (s *MemoryStore) ListPolicies(ctx context.Context, f Filter) ([]*model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if f.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	engine.SortPolicies(out)
	return Paginate(out, f.Offset, f.Limit), nil
}

// AppendVersion implements Store.
func (s *MemoryStore) AppendVersion(ctx context.Context, v PolicyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.Policy = v.Policy.Clone()
	s.versions[v.PolicyID] = append(s.versions[v.PolicyID], v)
	return nil
}

// ListVersions implements Store.
func (s *MemoryStore) ListVersions(ctx context.Context, policyID string) ([]PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.versions[policyID]
	out := make([]PolicyVersion, len(src))
	for i, v := range src {
		v.Policy = v.Policy.Clone()
		out[i] = v
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Paginate applies offset and limit to an ordered listing.
func Paginate(ps []*model.Policy, offset, limit int) []*model.Policy {
	if offset >= len(ps) {
		return []*model.Policy{}
	}
	ps = ps[offset:]
	if limit > 0 && limit < len(ps) {
		ps = ps[:limit]
	}
	return ps
}
