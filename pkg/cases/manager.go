package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/lock"
	"mercator-hq/warden/pkg/policy/model"
)

// DefaultMaxAttempts is how many times a mutation is retried after losing
// an optimistic write race.
const DefaultMaxAttempts = 3

// Observer is notified of every committed status change.
type Observer interface {
	CaseTransitioned(from, to Status)
}

// CreateCaseInput describes a new case.
type CreateCaseInput struct {
	VendorID       string
	Type           Type
	Severity       model.Severity
	Description    string
	TriggerEventID string
	PolicyID       string
	AssignedTo     string

	// SLAHours overrides the base SLA for the severity when positive.
	SLAHours int

	Actor Actor
}

// Manager owns every case mutation. Each mutation runs under a per-case
// lock and is written with an optimistic version check.
type Manager struct {
	store       Store
	locker      lock.Locker
	sla         SLAPolicy
	logger      *slog.Logger
	observer    Observer
	now         func() time.Time
	maxAttempts int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver registers a status change observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithMaxAttempts sets the optimistic write retry budget.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// NewManager creates a case lifecycle manager. A nil locker uses an
// in-process KeyedMutex.
func NewManager(store Store, locker lock.Locker, sla SLAPolicy, logger *slog.Logger, opts ...Option) *Manager {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:       store,
		locker:      locker,
		sla:         sla.withDefaults(),
		logger:      logger.With("component", "cases"),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SLA returns the SLA policy in effect.
func (m *Manager) SLA() SLAPolicy {
	return m.sla
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

func newEntry(action string, actor Actor, notes string, at time.Time) CaseAction {
	return CaseAction{
		ID:          uuid.NewString(),
		Action:      action,
		PerformedBy: actor.ID,
		Notes:       notes,
		Timestamp:   at,
	}
}

func newCaseNumber(at time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("CASE-%s-%s", at.Format("20060102"), strings.ToUpper(id[:8]))
}

func requireActor(entity, id string, actor Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return faults.NewValidationError(entity, id, "actor is required")
	}
	return nil
}

// CreateCase opens a new case with its SLA deadline.
func (m *Manager) CreateCase(ctx context.Context, in CreateCaseInput) (*Case, error) {
	verr := &faults.ValidationError{Entity: "case"}
	if strings.TrimSpace(in.VendorID) == "" {
		verr.Add("vendorId is required")
	}
	if strings.TrimSpace(in.Actor.ID) == "" {
		verr.Add("actor is required")
	}
	if in.Type == "" {
		in.Type = TypeComplianceViolation
	}
	if !in.Type.IsValid() {
		verr.Add("case type %q is unknown", in.Type)
	}
	if in.Severity == "" {
		in.Severity = model.SeverityMedium
	}
	if !in.Severity.IsValid() {
		verr.Add("severity %q is not one of critical, high, medium, low", in.Severity)
	}
	if in.SLAHours < 0 {
		verr.Add("slaHours must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	now := m.clock()
	window := m.sla.BaseFor(in.Severity)
	if in.SLAHours > 0 {
		window = time.Duration(in.SLAHours) * time.Hour
	}

	c := &Case{
		ID:             uuid.NewString(),
		CaseNumber:     newCaseNumber(now),
		VendorID:       in.VendorID,
		Type:           in.Type,
		Severity:       in.Severity,
		Status:         StatusOpen,
		Description:    in.Description,
		TriggerEventID: in.TriggerEventID,
		PolicyID:       in.PolicyID,
		AssignedTo:     in.AssignedTo,
		SLADeadline:    now.Add(window),
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	c.Actions = []CaseAction{newEntry(EntryCreated, in.Actor, in.Description, now)}

	if err := m.store.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	m.logger.Info("case created",
		"case_number", c.CaseNumber,
		"vendor_id", c.VendorID,
		"type", c.Type,
		"severity", c.Severity,
		"policy_id", c.PolicyID,
		"sla_deadline", c.SLADeadline,
	)
	m.observe("", StatusOpen)
	return c.Clone(), nil
}

// Get returns a case by number.
func (m *Manager) Get(ctx context.Context, caseNumber string) (*Case, error) {
	return m.store.GetCase(ctx, caseNumber)
}

// List returns cases matching f.
func (m *Manager) List(ctx context.Context, f Filter) ([]*Case, error) {
	return m.store.ListCases(ctx, f)
}

// mutateFunc changes c in place and reports whether anything changed.
// Returning an error aborts the mutation with the stored case untouched.
type mutateFunc func(c *Case, now time.Time) (bool, error)

// mutate applies fn under the case lock, retrying on version conflicts.
func (m *Manager) mutate(ctx context.Context, caseNumber string, fn mutateFunc) (*Case, bool, error) {
	unlock, err := m.locker.Lock(ctx, caseNumber)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock case %s: %w", caseNumber, err)
	}
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		current, err := m.store.GetCase(ctx, caseNumber)
		if err != nil {
			return nil, false, err
		}

		work := current.Clone()
		now := m.clock()
		changed, err := fn(work, now)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return current, false, nil
		}
		work.UpdatedAt = now

		err = m.store.UpdateCase(ctx, work, current.Version)
		if err == nil {
			if work.Status != current.Status {
				m.observe(current.Status, work.Status)
			}
			return work, true, nil
		}

		var conflict *faults.ConcurrencyConflictError
		if !errors.As(err, &conflict) {
			return nil, false, fmt.Errorf("failed to update case %s: %w", caseNumber, err)
		}
		lastErr = err
		m.logger.Debug("case write conflict, retrying",
			"case_number", caseNumber,
			"attempt", attempt,
		)
	}
	return nil, false, lastErr
}

func (m *Manager) observe(from, to Status) {
	if m.observer != nil {
		m.observer.CaseTransitioned(from, to)
	}
}

// AddCaseAction appends an audit entry. The first non-note entry moves an
// open case to in_progress.
func (m *Manager) AddCaseAction(ctx context.Context, caseNumber, action string, actor Actor, notes string) (*Case, error) {
	if err := requireActor("case", caseNumber, actor); err != nil {
		return nil, err
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, faults.NewValidationError("case", caseNumber, "action is required")
	}
	if reservedEntries[action] {
		return nil, faults.NewValidationError("case", caseNumber, fmt.Sprintf("action %q is recorded by its own operation", action))
	}

	c, _, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		if c.Status == StatusClosed {
			return false, faults.ErrCaseClosed
		}
		c.Actions = append(c.Actions, newEntry(action, actor, notes, now))
		if c.Status == StatusOpen && action != EntryNote {
			c.Status = StatusInProgress
		}
		return true, nil
	})
	return c, err
}

// AddSystemAction appends an entry on behalf of the system, such as a
// failed policy action.
func (m *Manager) AddSystemAction(ctx context.Context, caseNumber, action, notes string) error {
	_, _, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		if c.Status == StatusClosed {
			return false, faults.ErrCaseClosed
		}
		c.Actions = append(c.Actions, newEntry(action, System, notes, now))
		return true, nil
	})
	return err
}

// AssignCase sets the assignee and starts work on an open case.
func (m *Manager) AssignCase(ctx context.Context, caseNumber, assignee string, actor Actor) (*Case, error) {
	if err := requireActor("case", caseNumber, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(assignee) == "" {
		return nil, faults.NewValidationError("case", caseNumber, "assignee is required")
	}

	c, _, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		switch {
		case c.Status == StatusClosed:
			return false, faults.ErrCaseClosed
		case c.Status.IsTerminal():
			return false, fmt.Errorf("%w: cannot assign a %s case", faults.ErrInvalidTransition, c.Status)
		}
		if c.AssignedTo == assignee {
			return false, nil
		}
		c.AssignedTo = assignee
		c.Actions = append(c.Actions, newEntry(EntryAssigned, actor, assignee, now))
		if c.Status == StatusOpen {
			c.Status = StatusInProgress
		}
		return true, nil
	})
	return c, err
}

// AdvanceCase moves a case forward to in_progress, pending_review or
// vendor_response. Escalated cases only leave through resolution.
func (m *Manager) AdvanceCase(ctx context.Context, caseNumber string, target Status, actor Actor, notes string) (*Case, error) {
	if err := requireActor("case", caseNumber, actor); err != nil {
		return nil, err
	}
	switch target {
	case StatusInProgress, StatusPendingReview, StatusVendorResponse:
	default:
		return nil, faults.NewValidationError("case", caseNumber,
			fmt.Sprintf("target status %q must be one of in_progress, pending_review, vendor_response", target))
	}

	c, _, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		if c.Status == StatusClosed {
			return false, faults.ErrCaseClosed
		}
		if c.Status.IsTerminal() || c.Status == StatusEscalated || target.Rank() <= c.Status.Rank() {
			return false, fmt.Errorf("%w: %s -> %s", faults.ErrInvalidTransition, c.Status, target)
		}
		note := fmt.Sprintf("%s -> %s", c.Status, target)
		if notes != "" {
			note += ": " + notes
		}
		c.Status = target
		c.Actions = append(c.Actions, newEntry(EntryStatusChanged, actor, note, now))
		return true, nil
	})
	return c, err
}

// escalate moves c to escalated and tightens its deadline.
func (m *Manager) escalate(c *Case, now time.Time, entry string, actor Actor, notes string) {
	c.Status = StatusEscalated
	c.SLADeadline = m.sla.EscalatedDeadline(c.SLADeadline, now, c.Severity)
	at := now
	c.EscalatedAt = &at
	c.EscalationCount++
	c.Actions = append(c.Actions, newEntry(entry, actor, notes, now))
}

// EscalateCase escalates a non-terminal case. Escalating a case that is
// already escalated, resolved or closed changes nothing.
func (m *Manager) EscalateCase(ctx context.Context, caseNumber string, actor Actor, reason string) (*Case, error) {
	if err := requireActor("case", caseNumber, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, faults.NewValidationError("case", caseNumber, "escalation reason is required")
	}

	c, changed, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		if c.Status.IsTerminal() || c.Status == StatusEscalated {
			return false, nil
		}
		m.escalate(c, now, EntryEscalated, actor, reason)
		return true, nil
	})
	if err == nil && changed {
		m.logger.Warn("case escalated",
			"case_number", caseNumber,
			"actor", actor.ID,
			"sla_deadline", c.SLADeadline,
		)
	}
	return c, err
}

// AutoEscalate escalates a case whose SLA deadline has passed at now.
// It writes a single sla_breached entry and is a no-op for cases that are
// already escalated, terminal or not yet due.
func (m *Manager) AutoEscalate(ctx context.Context, caseNumber string, now time.Time) (bool, error) {
	_, changed, err := m.mutate(ctx, caseNumber, func(c *Case, _ time.Time) (bool, error) {
		if c.Status.IsTerminal() || c.Status == StatusEscalated || !now.After(c.SLADeadline) {
			return false, nil
		}
		note := fmt.Sprintf("SLA deadline %s passed", c.SLADeadline.Format(time.RFC3339))
		m.escalate(c, now, EntrySLABreached, System, note)
		return true, nil
	})
	if err == nil && changed {
		m.logger.Warn("case auto-escalated on SLA breach", "case_number", caseNumber)
	}
	return changed, err
}

// WarnAtRisk writes one sla_warning entry per deadline for a case that is
// within the at-risk window at now.
func (m *Manager) WarnAtRisk(ctx context.Context, caseNumber string, now time.Time) (*Case, bool, error) {
	return m.mutate(ctx, caseNumber, func(c *Case, _ time.Time) (bool, error) {
		if c.Status.IsTerminal() || !m.atRisk(c, now) || c.warnedForDeadline() {
			return false, nil
		}
		note := fmt.Sprintf("SLA deadline %s is within %s", c.SLADeadline.Format(time.RFC3339), m.sla.AtRiskWindow)
		c.Actions = append(c.Actions, newEntry(EntrySLAWarning, System, note, now))
		return true, nil
	})
}

func (m *Manager) atRisk(c *Case, now time.Time) bool {
	return c.SLADeadline.After(now) && !c.SLADeadline.After(now.Add(m.sla.AtRiskWindow))
}

// ResolveCase resolves a non-terminal case. Notes are mandatory.
func (m *Manager) ResolveCase(ctx context.Context, caseNumber string, actor Actor, notes string) (*Case, error) {
	if err := requireActor("case", caseNumber, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(notes) == "" {
		return nil, faults.NewValidationError("case", caseNumber, "resolution notes are required")
	}

	c, _, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		switch c.Status {
		case StatusClosed:
			return false, faults.ErrCaseClosed
		case StatusResolved:
			return false, fmt.Errorf("%w: case is already resolved", faults.ErrInvalidTransition)
		}
		at := now
		c.Status = StatusResolved
		c.ResolvedAt = &at
		c.Resolution = ResolutionResolved
		c.Actions = append(c.Actions, newEntry(EntryResolved, actor, notes, now))
		return true, nil
	})
	return c, err
}

// RejectCase closes a non-terminal case as rejected.
func (m *Manager) RejectCase(ctx context.Context, caseNumber string, actor Actor, reason string) (*Case, error) {
	if err := requireActor("case", caseNumber, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, faults.NewValidationError("case", caseNumber, "rejection reason is required")
	}

	c, _, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		switch c.Status {
		case StatusClosed:
			return false, faults.ErrCaseClosed
		case StatusResolved:
			return false, fmt.Errorf("%w: resolved cases are closed, not rejected", faults.ErrInvalidTransition)
		}
		at := now
		c.Status = StatusClosed
		c.ClosedAt = &at
		c.Resolution = ResolutionRejected
		c.Actions = append(c.Actions, newEntry(EntryRejected, actor, reason, now))
		return true, nil
	})
	return c, err
}

// CloseCase administratively closes a resolved case. Closed cases refuse
// every further mutation.
func (m *Manager) CloseCase(ctx context.Context, caseNumber string, actor Actor, notes string) (*Case, error) {
	if err := requireActor("case", caseNumber, actor); err != nil {
		return nil, err
	}

	c, _, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		switch c.Status {
		case StatusClosed:
			return false, faults.ErrCaseClosed
		case StatusResolved:
		default:
			return false, fmt.Errorf("%w: only resolved cases can be closed (status is %s)", faults.ErrInvalidTransition, c.Status)
		}
		at := now
		c.Status = StatusClosed
		c.ClosedAt = &at
		c.Actions = append(c.Actions, newEntry(EntryClosed, actor, notes, now))
		return true, nil
	})
	return c, err
}

// ReopenCase reopens a resolved case when event is new evidence that
// references it and the case was resolved within the reopen window. The
// SLA deadline is kept. Any other situation returns ErrReopenNotAllowed
// and the caller must open a new case.
func (m *Manager) ReopenCase(ctx context.Context, caseNumber string, event *facts.Event, actor Actor) (*Case, error) {
	if err := requireActor("case", caseNumber, actor); err != nil {
		return nil, err
	}
	if event == nil || event.CaseRef != caseNumber {
		return nil, fmt.Errorf("%w: no new evidence references %s", faults.ErrReopenNotAllowed, caseNumber)
	}

	c, _, err := m.mutate(ctx, caseNumber, func(c *Case, now time.Time) (bool, error) {
		if c.Status != StatusResolved || c.ResolvedAt == nil {
			return false, fmt.Errorf("%w: case is %s", faults.ErrReopenNotAllowed, c.Status)
		}
		if now.Sub(*c.ResolvedAt) > m.sla.ReopenWindow {
			return false, fmt.Errorf("%w: resolved more than %s ago", faults.ErrReopenNotAllowed, m.sla.ReopenWindow)
		}
		c.Status = StatusOpen
		c.ResolvedAt = nil
		c.Resolution = ""
		note := fmt.Sprintf("new evidence %s (%s); SLA deadline %s unchanged",
			event.ID, event.EventType, c.SLADeadline.Format(time.RFC3339))
		c.Actions = append(c.Actions, newEntry(EntryReopened, actor, note, now))
		return true, nil
	})
	if err == nil {
		m.logger.Info("case reopened", "case_number", caseNumber, "event_id", event.ID)
	}
	return c, err
}

// OpenCaseForVendor returns the vendor's most recent non-terminal case, or
// nil when there is none.
func (m *Manager) OpenCaseForVendor(ctx context.Context, vendorID string) (*Case, error) {
	cs, err := m.store.ListCases(ctx, Filter{VendorID: vendorID, Statuses: NonTerminal, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, nil
	}
	return cs[0], nil
}

// CasesAtRisk returns non-terminal cases whose deadline falls within the
// at-risk window after now, earliest first.
func (m *Manager) CasesAtRisk(ctx context.Context, now time.Time) ([]*Case, error) {
	due, err := m.store.ListDue(ctx, now.Add(m.sla.AtRiskWindow))
	if err != nil {
		return nil, err
	}
	out := make([]*Case, 0, len(due))
	for _, c := range due {
		if m.atRisk(c, now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// OverdueCases returns non-terminal cases whose deadline has passed,
// earliest first.
func (m *Manager) OverdueCases(ctx context.Context, now time.Time) ([]*Case, error) {
	due, err := m.store.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]*Case, 0, len(due))
	for _, c := range due {
		if c.Overdue(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// DueCases returns every non-terminal case due at or before the given time.
// The SLA scheduler scans this set.
func (m *Manager) DueCases(ctx context.Context, before time.Time) ([]*Case, error) {
	return m.store.ListDue(ctx, before)
}

// VendorHistory projects a vendor's case history into history.* facts.
func (m *Manager) VendorHistory(ctx context.Context, vendorID string) (facts.FactSet, error) {
	cs, err := m.store.ListCases(ctx, Filter{VendorID: vendorID})
	if err != nil {
		return nil, err
	}
	open, escalations := 0, 0
	for _, c := range cs {
		if !c.Status.IsTerminal() {
			open++
		}
		escalations += c.EscalationCount
	}
	out := facts.FactSet{}
	out.Set("history.openCases", model.Number(float64(open)))
	out.Set("history.totalCases", model.Number(float64(len(cs))))
	out.Set("history.escalations", model.Number(float64(escalations)))
	return out, nil
}

// PolicyReferenced reports whether any case was opened by the policy.
func (m *Manager) PolicyReferenced(ctx context.Context, policyID string) (bool, error) {
	cs, err := m.store.ListCases(ctx, Filter{PolicyID: policyID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(cs) > 0, nil
}
