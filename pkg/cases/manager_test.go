package cases

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

var analyst = Actor{ID: "analyst-1", Role: "analyst"}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
}

func (o *recordingObserver) CaseTransitioned(from, to Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, string(from)+"->"+string(to))
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewManager(NewMemoryStore(), nil, DefaultSLAPolicy(), nil, opts...), clock
}

func createCase(t *testing.T, m *Manager, sev model.Severity) *Case {
	t.Helper()
	c, err := m.CreateCase(context.Background(), CreateCaseInput{
		VendorID:    "vendor-1",
		Type:        TypeSanctionsHit,
		Severity:    sev,
		Description: "sanctions screening match",
		PolicyID:    "pol-1",
		Actor:       System,
	})
	require.NoError(t, err)
	return c
}

func TestCreateCase(t *testing.T) {
	m, clock := newTestManager(t)

	c := createCase(t, m, model.SeverityHigh)

	assert.True(t, strings.HasPrefix(c.CaseNumber, "CASE-20260302-"), c.CaseNumber)
	assert.Len(t, c.CaseNumber, len("CASE-20260302-")+8)
	assert.Equal(t, StatusOpen, c.Status)
	assert.Equal(t, clock.Now().Add(24*time.Hour), c.SLADeadline)
	assert.Equal(t, int64(1), c.Version)
	require.Len(t, c.Actions, 1)
	assert.Equal(t, EntryCreated, c.Actions[0].Action)
	assert.Equal(t, SystemActorID, c.Actions[0].PerformedBy)
}

func TestCreateCase_Defaults(t *testing.T) {
	m, clock := newTestManager(t)

	c, err := m.CreateCase(context.Background(), CreateCaseInput{VendorID: "vendor-1", Actor: System})
	require.NoError(t, err)
	assert.Equal(t, model.SeverityMedium, c.Severity)
	assert.Equal(t, TypeComplianceViolation, c.Type)
	assert.Equal(t, clock.Now().Add(72*time.Hour), c.SLADeadline)

	c, err = m.CreateCase(context.Background(), CreateCaseInput{VendorID: "vendor-1", SLAHours: 2, Actor: System})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(2*time.Hour), c.SLADeadline)
}

func TestCreateCase_Invalid(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateCase(context.Background(), CreateCaseInput{Type: "bogus", Severity: "urgent"})
	require.Error(t, err)

	var verr *faults.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 4)
}

func TestAddCaseAction(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	c := createCase(t, m, model.SeverityHigh)

	updated, err := m.AddCaseAction(ctx, c.CaseNumber, EntryNote, analyst, "looking into it")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, updated.Status, "notes do not start work")

	updated, err = m.AddCaseAction(ctx, c.CaseNumber, "requested_documents", analyst, "")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)
	assert.Len(t, updated.Actions, 3)

	_, err = m.AddCaseAction(ctx, c.CaseNumber, EntryEscalated, analyst, "")
	assert.True(t, faults.IsValidation(err))

	_, err = m.AddCaseAction(ctx, c.CaseNumber, "note", Actor{}, "")
	assert.True(t, faults.IsValidation(err))

	_, err = m.AddCaseAction(ctx, "CASE-MISSING", "note", analyst, "")
	assert.True(t, faults.IsNotFound(err))
}

func TestAssignCase(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	c := createCase(t, m, model.SeverityMedium)

	updated, err := m.AssignCase(ctx, c.CaseNumber, "analyst-2", analyst)
	require.NoError(t, err)
	assert.Equal(t, "analyst-2", updated.AssignedTo)
	assert.Equal(t, StatusInProgress, updated.Status)

	again, err := m.AssignCase(ctx, c.CaseNumber, "analyst-2", analyst)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, again.Version, "reassigning the same person is a no-op")
}

func TestAdvanceCase(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	c := createCase(t, m, model.SeverityMedium)

	updated, err := m.AdvanceCase(ctx, c.CaseNumber, StatusPendingReview, analyst, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, updated.Status)

	_, err = m.AdvanceCase(ctx, c.CaseNumber, StatusInProgress, analyst, "")
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)

	_, err = m.AdvanceCase(ctx, c.CaseNumber, StatusResolved, analyst, "")
	assert.True(t, faults.IsValidation(err))

	_, err = m.EscalateCase(ctx, c.CaseNumber, analyst, "vendor unresponsive")
	require.NoError(t, err)
	_, err = m.AdvanceCase(ctx, c.CaseNumber, StatusVendorResponse, analyst, "")
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)
}

func TestEscalateCase(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)
	c := createCase(t, m, model.SeverityLow)

	clock.Advance(time.Hour)
	updated, err := m.EscalateCase(ctx, c.CaseNumber, analyst, "repeat offender")
	require.NoError(t, err)

	assert.Equal(t, StatusEscalated, updated.Status)
	assert.Equal(t, 1, updated.EscalationCount)
	require.NotNil(t, updated.EscalatedAt)
	assert.Equal(t, clock.Now().Add(48*time.Hour), updated.SLADeadline)
	assert.Equal(t, 1, updated.CountEntries(EntryEscalated))

	again, err := m.EscalateCase(ctx, c.CaseNumber, analyst, "again")
	require.NoError(t, err)
	assert.Equal(t, updated.Version, again.Version)
	assert.Equal(t, 1, again.EscalationCount)
}

func TestEscalateCase_KeepsEarlierDeadline(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)
	c := createCase(t, m, model.SeverityCritical)

	// 4h base deadline, escalating 3.5h in leaves 30m which beats the 1h window.
	clock.Advance(3*time.Hour + 30*time.Minute)
	updated, err := m.EscalateCase(ctx, c.CaseNumber, analyst, "urgent")
	require.NoError(t, err)
	assert.Equal(t, c.SLADeadline, updated.SLADeadline)
}

func TestEscalateCase_TerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	resolved := createCase(t, m, model.SeverityHigh)
	_, err := m.ResolveCase(ctx, resolved.CaseNumber, analyst, "false positive")
	require.NoError(t, err)

	before, err := m.Get(ctx, resolved.CaseNumber)
	require.NoError(t, err)
	after, err := m.EscalateCase(ctx, resolved.CaseNumber, analyst, "late escalation")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = m.CloseCase(ctx, resolved.CaseNumber, analyst, "")
	require.NoError(t, err)
	closed, err := m.EscalateCase(ctx, resolved.CaseNumber, analyst, "late escalation")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, 0, closed.EscalationCount)
}

func TestEscalateCase_RequiresReason(t *testing.T) {
	m, _ := newTestManager(t)
	c := createCase(t, m, model.SeverityHigh)

	_, err := m.EscalateCase(context.Background(), c.CaseNumber, analyst, "  ")
	assert.True(t, faults.IsValidation(err))
}

func TestResolveCase(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)
	c := createCase(t, m, model.SeverityHigh)

	_, err := m.ResolveCase(ctx, c.CaseNumber, analyst, "")
	assert.True(t, faults.IsValidation(err))

	unchanged, err := m.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, c, unchanged)

	clock.Advance(time.Hour)
	resolved, err := m.ResolveCase(ctx, c.CaseNumber, analyst, "vendor cleared by screening team")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, ResolutionResolved, resolved.Resolution)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, clock.Now(), *resolved.ResolvedAt)

	_, err = m.ResolveCase(ctx, c.CaseNumber, analyst, "twice")
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)
}

func TestRejectCase(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	c := createCase(t, m, model.SeverityMedium)

	rejected, err := m.RejectCase(ctx, c.CaseNumber, analyst, "duplicate of an existing case")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, rejected.Status)
	assert.Equal(t, ResolutionRejected, rejected.Resolution)
	assert.NotNil(t, rejected.ClosedAt)
}

func TestCloseCase(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	c := createCase(t, m, model.SeverityMedium)

	_, err := m.CloseCase(ctx, c.CaseNumber, analyst, "")
	assert.ErrorIs(t, err, faults.ErrInvalidTransition)

	_, err = m.ResolveCase(ctx, c.CaseNumber, analyst, "done")
	require.NoError(t, err)
	closed, err := m.CloseCase(ctx, c.CaseNumber, analyst, "")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)

	_, err = m.AddCaseAction(ctx, c.CaseNumber, EntryNote, analyst, "after close")
	assert.ErrorIs(t, err, faults.ErrCaseClosed)
	_, err = m.CloseCase(ctx, c.CaseNumber, analyst, "")
	assert.ErrorIs(t, err, faults.ErrCaseClosed)
	_, err = m.ResolveCase(ctx, c.CaseNumber, analyst, "again")
	assert.ErrorIs(t, err, faults.ErrCaseClosed)
}

func TestReopenCase(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)
	c := createCase(t, m, model.SeverityHigh)

	_, err := m.ResolveCase(ctx, c.CaseNumber, analyst, "cleared")
	require.NoError(t, err)

	evidence := &facts.Event{ID: "evt-1", EventType: facts.EventSanctionsHit, VendorID: "vendor-1", CaseRef: c.CaseNumber}

	t.Run("requires referencing evidence", func(t *testing.T) {
		_, err := m.ReopenCase(ctx, c.CaseNumber, nil, analyst)
		assert.ErrorIs(t, err, faults.ErrReopenNotAllowed)

		other := *evidence
		other.CaseRef = "CASE-OTHER"
		_, err = m.ReopenCase(ctx, c.CaseNumber, &other, analyst)
		assert.ErrorIs(t, err, faults.ErrReopenNotAllowed)
	})

	t.Run("reopens within window keeping the deadline", func(t *testing.T) {
		clock.Advance(13 * 24 * time.Hour)
		reopened, err := m.ReopenCase(ctx, c.CaseNumber, evidence, analyst)
		require.NoError(t, err)
		assert.Equal(t, StatusOpen, reopened.Status)
		assert.Nil(t, reopened.ResolvedAt)
		assert.Empty(t, reopened.Resolution)
		assert.Equal(t, c.SLADeadline, reopened.SLADeadline)
		assert.Equal(t, 1, reopened.CountEntries(EntryReopened))
	})

	t.Run("refuses outside window", func(t *testing.T) {
		_, err := m.ResolveCase(ctx, c.CaseNumber, analyst, "cleared again")
		require.NoError(t, err)
		clock.Advance(15 * 24 * time.Hour)
		_, err = m.ReopenCase(ctx, c.CaseNumber, evidence, analyst)
		assert.ErrorIs(t, err, faults.ErrReopenNotAllowed)
	})

	t.Run("refuses non-resolved cases", func(t *testing.T) {
		open := createCase(t, m, model.SeverityLow)
		ev := *evidence
		ev.CaseRef = open.CaseNumber
		_, err := m.ReopenCase(ctx, open.CaseNumber, &ev, analyst)
		assert.ErrorIs(t, err, faults.ErrReopenNotAllowed)
	})
}

func TestAutoEscalate_SingleBreachEntry(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)
	c := createCase(t, m, model.SeverityCritical)

	early, err := m.AutoEscalate(ctx, c.CaseNumber, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, early)

	breach := c.SLADeadline.Add(time.Minute)
	first, err := m.AutoEscalate(ctx, c.CaseNumber, breach)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := m.AutoEscalate(ctx, c.CaseNumber, breach.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, second)

	got, err := m.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, got.Status)
	assert.Equal(t, 1, got.CountEntries(EntrySLABreached))
	assert.Equal(t, breach.Add(time.Hour), got.SLADeadline)
	assert.Equal(t, SystemActorID, got.Actions[len(got.Actions)-1].PerformedBy)
}

func TestWarnAtRisk_OncePerDeadline(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)
	c := createCase(t, m, model.SeverityHigh)

	_, warned, err := m.WarnAtRisk(ctx, c.CaseNumber, clock.Now())
	require.NoError(t, err)
	assert.False(t, warned, "not yet at risk")

	clock.Advance(21 * time.Hour)
	_, warned, err = m.WarnAtRisk(ctx, c.CaseNumber, clock.Now())
	require.NoError(t, err)
	assert.True(t, warned)

	clock.Advance(time.Hour)
	got, warned, err := m.WarnAtRisk(ctx, c.CaseNumber, clock.Now())
	require.NoError(t, err)
	assert.False(t, warned)
	assert.Equal(t, 1, got.CountEntries(EntrySLAWarning))
}

func TestCasesAtRiskAndOverdue(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)

	critical := createCase(t, m, model.SeverityCritical)
	high := createCase(t, m, model.SeverityHigh)
	createCase(t, m, model.SeverityLow)

	now := clock.Now().Add(3 * time.Hour)
	atRisk, err := m.CasesAtRisk(ctx, now)
	require.NoError(t, err)
	require.Len(t, atRisk, 1)
	assert.Equal(t, critical.CaseNumber, atRisk[0].CaseNumber)

	now = clock.Now().Add(25 * time.Hour)
	overdue, err := m.OverdueCases(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, critical.CaseNumber, overdue[0].CaseNumber)
	assert.Equal(t, high.CaseNumber, overdue[1].CaseNumber)
}

func TestOpenCaseForVendorAndHistory(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t)

	none, err := m.OpenCaseForVendor(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	first := createCase(t, m, model.SeverityHigh)
	clock.Advance(time.Minute)
	second := createCase(t, m, model.SeverityLow)
	_, err = m.EscalateCase(ctx, first.CaseNumber, analyst, "stalled")
	require.NoError(t, err)
	_, err = m.ResolveCase(ctx, second.CaseNumber, analyst, "done")
	require.NoError(t, err)

	open, err := m.OpenCaseForVendor(ctx, "vendor-1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, first.CaseNumber, open.CaseNumber)

	history, err := m.VendorHistory(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, model.Number(1), history["history.openCases"])
	assert.Equal(t, model.Number(2), history["history.totalCases"])
	assert.Equal(t, model.Number(1), history["history.escalations"])
}

type conflictOnceStore struct {
	*MemoryStore
	mu        sync.Mutex
	conflicts int
	updates   int
}

func (s *conflictOnceStore) UpdateCase(ctx context.Context, c *Case, expected int64) error {
	s.mu.Lock()
	s.updates++
	inject := s.conflicts > 0
	if inject {
		s.conflicts--
	}
	s.mu.Unlock()

	if inject {
		return &faults.ConcurrencyConflictError{Entity: "case", ID: c.CaseNumber, Expected: expected, Actual: expected + 1}
	}
	return s.MemoryStore.UpdateCase(ctx, c, expected)
}

func TestMutate_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictOnceStore{MemoryStore: NewMemoryStore(), conflicts: 1}
	m := NewManager(store, nil, DefaultSLAPolicy(), nil)

	c, err := m.CreateCase(ctx, CreateCaseInput{VendorID: "vendor-1", Actor: System})
	require.NoError(t, err)

	_, err = m.AddCaseAction(ctx, c.CaseNumber, EntryNote, analyst, "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, store.updates)

	got, err := m.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CountEntries(EntryNote))
	assert.Equal(t, int64(2), got.Version)
}

func TestMutate_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := &conflictOnceStore{MemoryStore: NewMemoryStore(), conflicts: 10}
	m := NewManager(store, nil, DefaultSLAPolicy(), nil, WithMaxAttempts(2))

	c, err := m.CreateCase(ctx, CreateCaseInput{VendorID: "vendor-1", Actor: System})
	require.NoError(t, err)

	_, err = m.AddCaseAction(ctx, c.CaseNumber, EntryNote, analyst, "hello")
	require.Error(t, err)
	assert.True(t, faults.IsConflict(err))
	assert.Equal(t, 2, store.updates)
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	c := createCase(t, m, model.SeverityLow)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.AddCaseAction(ctx, c.CaseNumber, EntryNote, analyst, "parallel"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	got, err := m.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, writers, got.CountEntries(EntryNote))
	assert.Equal(t, int64(writers+1), got.Version)
}

func TestObserverSeesTransitions(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	m, _ := newTestManager(t, WithObserver(obs))
	c := createCase(t, m, model.SeverityLow)

	_, err := m.EscalateCase(ctx, c.CaseNumber, analyst, "stalled")
	require.NoError(t, err)
	_, err = m.ResolveCase(ctx, c.CaseNumber, analyst, "fixed")
	require.NoError(t, err)

	assert.Equal(t, []string{"->open", "open->escalated", "escalated->resolved"}, obs.transitions)
}

func TestManagerSurfacesStoreErrors(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.ResolveCase(context.Background(), "CASE-NOPE", analyst, "notes")
	require.Error(t, err)
	var nf *faults.NotFoundError
	assert.True(t, errors.As(err, &nf))
}
