package cases

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

// Filter narrows case listings. Zero fields match everything.
type Filter struct {
	VendorID   string
	Statuses   []Status
	Severity   model.Severity
	AssignedTo string
	PolicyID   string
	Limit      int
	Offset     int
}

func (f Filter) matches(c *Case) bool {
	if f.VendorID != "" && c.VendorID != f.VendorID {
		return false
	}
	if f.Severity != "" && c.Severity != f.Severity {
		return false
	}
	if f.AssignedTo != "" && c.AssignedTo != f.AssignedTo {
		return false
	}
	if f.PolicyID != "" && c.PolicyID != f.PolicyID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NonTerminal lists every status a case can still be worked in.
var NonTerminal = []Status{StatusOpen, StatusInProgress, StatusPendingReview, StatusVendorResponse, StatusEscalated}

// Store persists cases and their audit trails.
type Store interface {
	// CreateCase inserts a new case. Duplicate case numbers are rejected.
	CreateCase(ctx context.Context, c *Case) error

	// GetCase returns a case or a *faults.NotFoundError.
	GetCase(ctx context.Context, caseNumber string) (*Case, error)

	// UpdateCase writes c if the stored version equals expectedVersion and
	// appends audit entries not yet stored. On success c.Version is
	// expectedVersion+1; otherwise a *faults.ConcurrencyConflictError.
	UpdateCase(ctx context.Context, c *Case, expectedVersion int64) error

	// ListCases returns matching cases, newest first.
	ListCases(ctx context.Context, f Filter) ([]*Case, error)

	// ListDue returns non-terminal cases whose SLA deadline is at or before
	// the given time, earliest deadline first.
	ListDue(ctx context.Context, before time.Time) ([]*Case, error)
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]*Case
}

// NewMemoryStore creates an empty case store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*Case)}
}

// CreateCase implements Store.
func (s *MemoryStore) CreateCase(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.CaseNumber]; exists {
		return faults.NewValidationError("case", c.CaseNumber, "case number already exists")
	}
	s.cases[c.CaseNumber] = c.Clone()
	return nil
}

// GetCase implements Store.
func (s *MemoryStore) GetCase(ctx context.Context, caseNumber string) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[caseNumber]
	if !ok {
		return nil, &faults.NotFoundError{Entity: "case", ID: caseNumber}
	}
	return c.Clone(), nil
}

// UpdateCase implements Store.
func (s *MemoryStore) UpdateCase(ctx context.Context, c *Case, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cases[c.CaseNumber]
	if !ok {
		return &faults.NotFoundError{Entity: "case", ID: c.CaseNumber}
	}
	if current.Version != expectedVersion {
		return &faults.ConcurrencyConflictError{Entity: "case", ID: c.CaseNumber, Expected: expectedVersion, Actual: current.Version}
	}
	c.Version = expectedVersion + 1
	s.cases[c.CaseNumber] = c.Clone()
	return nil
}

// ListCases implements Store.
func (s *MemoryStore) ListCases(ctx context.Context, f Filter) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Case
	for _, c := range s.cases {
		if f.matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CaseNumber > out[j].CaseNumber
	})
	return paginate(out, f.Offset, f.Limit), nil
}

// ListDue implements Store.
func (s *MemoryStore) ListDue(ctx context.Context, before time.Time) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Case
	for _, c := range s.cases {
		if !c.Status.IsTerminal() && !c.SLADeadline.After(before) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SLADeadline.Equal(out[j].SLADeadline) {
			return out[i].SLADeadline.Before(out[j].SLADeadline)
		}
		return out[i].CaseNumber < out[j].CaseNumber
	})
	return out, nil
}

func paginate(cs []*Case, offset, limit int) []*Case {
	if offset > len(cs) {
		return []*Case{}
	}
	cs = cs[offset:]
	if limit > 0 && limit < len(cs) {
		cs = cs[:limit]
	}
	return cs
}
