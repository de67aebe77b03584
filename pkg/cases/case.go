package cases

import (
	"time"

	"mercator-hq/warden/pkg/policy/model"
)

// Status is a case lifecycle state.
type Status string

const (
	StatusOpen           Status = "open"
	StatusInProgress     Status = "in_progress"
	StatusPendingReview  Status = "pending_review"
	StatusVendorResponse Status = "vendor_response"
	StatusEscalated      Status = "escalated"
	StatusResolved       Status = "resolved"
	StatusClosed         Status = "closed"
)

var statusRank = map[Status]int{
	StatusOpen:           0,
	StatusInProgress:     1,
	StatusPendingReview:  2,
	StatusVendorResponse: 3,
	StatusEscalated:      4,
	StatusResolved:       5,
	StatusClosed:         6,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank is the position of s in the forward lifecycle order.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether the case is resolved or closed.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Type classifies a case.
type Type string

const (
	TypeMatchingFailure     Type = "matching_failure"
	TypeFraudAlert          Type = "fraud_alert"
	TypeDuplicateSuspected  Type = "duplicate_suspected"
	TypeMissingPO           Type = "missing_po"
	TypePriceVariance       Type = "price_variance"
	TypeQuantityVariance    Type = "quantity_variance"
	TypeTaxMismatch         Type = "tax_mismatch"
	TypeComplianceViolation Type = "compliance_violation"
	TypeDocumentExpired     Type = "document_expired"
	TypeSanctionsHit        Type = "sanctions_hit"
)

// IsValid reports whether t is a known case type.
func (t Type) IsValid() bool {
	switch t {
	case TypeMatchingFailure, TypeFraudAlert, TypeDuplicateSuspected, TypeMissingPO,
		TypePriceVariance, TypeQuantityVariance, TypeTaxMismatch,
		TypeComplianceViolation, TypeDocumentExpired, TypeSanctionsHit:
		return true
	}
	return false
}

// Resolution records how a terminal case ended.
type Resolution string

const (
	ResolutionResolved Resolution = "resolved"
	ResolutionRejected Resolution = "rejected"
)

// Audit entry names written by the lifecycle manager.
const (
	EntryCreated       = "created"
	EntryNote          = "note"
	EntryAssigned      = "assigned"
	EntryStatusChanged = "status_changed"
	EntryEscalated     = "escalated"
	EntryResolved      = "resolved"
	EntryRejected      = "rejected"
	EntryClosed        = "closed"
	EntryReopened      = "reopened"
	EntrySLABreached   = "sla_breached"
	EntrySLAWarning    = "sla_warning"
	EntryActionFailed  = "action_failed"
)

// reservedEntries may only be written by the lifecycle operations themselves.
var reservedEntries = map[string]bool{
	EntryCreated:       true,
	EntryAssigned:      true,
	EntryStatusChanged: true,
	EntryEscalated:     true,
	EntryResolved:      true,
	EntryRejected:      true,
	EntryClosed:        true,
	EntryReopened:      true,
	EntrySLABreached:   true,
	EntrySLAWarning:    true,
}

// SystemActorID performs scheduler and policy-driven mutations.
const SystemActorID = "system"

// Actor identifies who performs a mutation.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// System is the actor used for automated mutations.
var System = Actor{ID: SystemActorID, Role: "system"}

// CaseAction is one append-only audit entry.
type CaseAction struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	PerformedBy string    `json:"performedBy"`
	Notes       string    `json:"notes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Case is a remediation case with an SLA and an audit trail.
type Case struct {
	ID             string         `json:"id"`
	CaseNumber     string         `json:"caseNumber"`
	VendorID       string         `json:"vendorId"`
	Type           Type           `json:"type"`
	Severity       model.Severity `json:"severity"`
	Status         Status         `json:"status"`
	Description    string         `json:"description,omitempty"`
	TriggerEventID string         `json:"triggerEventId,omitempty"`
	PolicyID       string         `json:"policyId,omitempty"`
	AssignedTo     string         `json:"assignedTo,omitempty"`

	SLADeadline     time.Time  `json:"slaDeadline"`
	EscalatedAt     *time.Time `json:"escalatedAt,omitempty"`
	EscalationCount int        `json:"escalationCount"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
	Resolution      Resolution `json:"resolution,omitempty"`

	Actions []CaseAction `json:"actions"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is the optimistic concurrency counter.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the case.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Actions = append([]CaseAction(nil), c.Actions...)
	cp.EscalatedAt = copyTime(c.EscalatedAt)
	cp.ResolvedAt = copyTime(c.ResolvedAt)
	cp.ClosedAt = copyTime(c.ClosedAt)
	return &cp
}

// CountEntries returns how many audit entries carry the given action name.
func (c *Case) CountEntries(action string) int {
	n := 0
	for _, a := range c.Actions {
		if a.Action == action {
			n++
		}
	}
	return n
}

// Overdue reports whether the SLA deadline has passed on a non-terminal case.
func (c *Case) Overdue(now time.Time) bool {
	return !c.Status.IsTerminal() && now.After(c.SLADeadline)
}

// deadlineSetAt is when the current SLA deadline was last changed.
func (c *Case) deadlineSetAt() time.Time {
	if c.EscalatedAt != nil {
		return *c.EscalatedAt
	}
	return c.CreatedAt
}

// warnedForDeadline reports whether an sla_warning was already written for
// the current deadline.
func (c *Case) warnedForDeadline() bool {
	since := c.deadlineSetAt()
	for _, a := range c.Actions {
		if a.Action == EntrySLAWarning && !a.Timestamp.Before(since) {
			return true
		}
	}
	return false
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
