package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"mercator-hq/warden/pkg/policy/model"
)

// Snapshot is an immutable, pre-sorted set of policies captured once per
// evaluation. Later registry edits never affect an evaluation in flight.
type Snapshot struct {
	policies []*model.Policy
	byID     map[string]*model.Policy
	takenAt  time.Time
	version  string
}

// NewSnapshot deep-copies policies and orders them by (priority, id).
func NewSnapshot(policies []*model.Policy, takenAt time.Time) *Snapshot {
	s := &Snapshot{
		policies: make([]*model.Policy, 0, len(policies)),
		byID:     make(map[string]*model.Policy, len(policies)),
		takenAt:  takenAt,
	}
	for _, p := range policies {
		if p == nil {
			continue
		}
		cp := p.Clone()
		s.policies = append(s.policies, cp)
		s.byID[cp.ID] = cp
	}
	SortPolicies(s.policies)
	s.version = contentVersion(s.policies)
	return s
}

// contentVersion hashes the ordered policy contents so that two snapshots
// of the same policy set share a version.
func contentVersion(policies []*model.Policy) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, p := range policies {
		// Policies are plain data; encoding cannot fail.
		_ = enc.Encode(p)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Policies returns copies of the snapshot's policies in evaluation order.
func (s *Snapshot) Policies() []*model.Policy {
	out := make([]*model.Policy, len(s.policies))
	for i, p := range s.policies {
		out[i] = p.Clone()
	}
	return out
}

// Get returns a copy of the policy with the given ID.
func (s *Snapshot) Get(id string) (*model.Policy, bool) {
	p, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Len returns the number of policies.
func (s *Snapshot) Len() int {
	return len(s.policies)
}

// TakenAt returns when the snapshot was captured.
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// Version returns the content hash.
func (s *Snapshot) Version() string {
	return s.version
}
