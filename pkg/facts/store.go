package facts

import (
	"context"
	"sync"

	"mercator-hq/warden/pkg/faults"
)

// Store persists events. Implementations must be append-only: events are
// never updated or deleted once written.
type Store interface {
	// AppendEvent stores e, assigning its Sequence, and returns the stored copy.
	AppendEvent(ctx context.Context, e *Event) (*Event, error)

	// GetEvent returns the event with the given ID.
	GetEvent(ctx context.Context, id string) (*Event, error)

	// ListEvents returns a vendor's events in sequence order.
	ListEvents(ctx context.Context, vendorID string) ([]*Event, error)

	// ListVendorIDs returns every vendor that has at least one event.
	ListVendorIDs(ctx context.Context) ([]string, error)
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	byID     map[string]*Event
	byVendor map[string][]*Event
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Event),
		byVendor: make(map[string][]*Event),
	}
}

// AppendEvent implements Store.
func (s *MemoryStore) AppendEvent(ctx context.Context, e *Event) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.ID]; exists {
		return nil, faults.NewValidationError("event", e.ID, "event already recorded")
	}
	s.seq++
	cp := *e
	cp.Sequence = s.seq
	s.byID[cp.ID] = &cp
	s.byVendor[cp.VendorID] = append(s.byVendor[cp.VendorID], &cp)

	out := cp
	return &out, nil
}

// GetEvent implements Store.
func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, &faults.NotFoundError{Entity: "event", ID: id}
	}
	cp := *e
	return &cp, nil
}

// ListEvents implements Store.
func (s *MemoryStore) ListEvents(ctx context.Context, vendorID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byVendor[vendorID]
	out := make([]*Event, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// ListVendorIDs implements Store.
func (s *MemoryStore) ListVendorIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byVendor))
	for id := range s.byVendor {
		out = append(out, id)
	}
	return out, nil
}
