package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/notify"
	"mercator-hq/warden/pkg/policy/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newManager(t *testing.T) *cases.Manager {
	t.Helper()
	return cases.NewManager(cases.NewMemoryStore(), nil, cases.DefaultSLAPolicy(), nil,
		cases.WithClock(func() time.Time { return t0 }))
}

func openCase(t *testing.T, m *cases.Manager, sev model.Severity) *cases.Case {
	t.Helper()
	c, err := m.CreateCase(context.Background(), cases.CreateCaseInput{
		VendorID: "vendor-1",
		Severity: sev,
		Actor:    cases.System,
	})
	require.NoError(t, err)
	return c
}

type sweepRecorder struct {
	results []SweepResult
}

func (r *sweepRecorder) RecordSweep(result SweepResult) {
	r.results = append(r.results, result)
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{name: "default descriptor", schedule: DefaultSchedule, wantRunning: true},
		{name: "standard cron", schedule: "*/5 * * * *", wantRunning: true},
		{name: "empty schedule disables", schedule: "", wantRunning: false},
		{name: "invalid schedule", schedule: "every so often", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(newManager(t), nil, Config{Schedule: tt.schedule}, nil)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if tt.wantError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantRunning, s.IsRunning())

			if tt.wantRunning {
				next := s.NextRun()
				require.NotNil(t, next)
				assert.True(t, next.After(time.Now().Add(-time.Second)))
			}
			s.Stop()
			assert.False(t, s.IsRunning())
		})
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	s := NewScheduler(newManager(t), nil, Config{Schedule: DefaultSchedule}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestScheduler_RestartKeepsOneEntry(t *testing.T) {
	s := NewScheduler(newManager(t), nil, Config{Schedule: DefaultSchedule}, nil)

	first, cancelFirst := context.WithCancel(context.Background())
	require.NoError(t, s.Start(first))
	s.Stop()

	second, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()
	require.NoError(t, s.Start(second))
	assert.True(t, s.IsRunning())
	assert.Len(t, s.cron.Entries(), 1)

	// cancelling the first run's context must not stop the second run
	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, s.IsRunning())

	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestRunAutoEscalate(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alerts := notify.NewRecorder()

	critical := openCase(t, m, model.SeverityCritical) // due t0+4h
	high := openCase(t, m, model.SeverityHigh)         // due t0+24h
	openCase(t, m, model.SeverityLow)                  // due t0+168h

	s := NewScheduler(m, alerts, Config{AlertRecipients: []string{"compliance@example.com"}}, nil)
	rec := &sweepRecorder{}
	s.SetRecorder(rec)

	now := t0.Add(21 * time.Hour)
	result, err := s.RunAutoEscalate(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 1, result.Warned)
	assert.Zero(t, result.Failed)

	got, err := m.Get(ctx, critical.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, cases.StatusEscalated, got.Status)
	assert.Equal(t, 1, got.CountEntries(cases.EntrySLABreached))

	got, err = m.Get(ctx, high.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, cases.StatusOpen, got.Status)
	assert.Equal(t, 1, got.CountEntries(cases.EntrySLAWarning))

	sent := alerts.Alerts()
	require.Len(t, sent, 2)
	assert.Equal(t, notify.ChannelInApp, sent[0].Channel)
	assert.Equal(t, critical.CaseNumber, sent[0].CaseNumber)
	assert.Equal(t, "SLA breached", sent[0].Subject)
	assert.Equal(t, high.CaseNumber, sent[1].CaseNumber)
	assert.Equal(t, "SLA at risk", sent[1].Subject)

	require.Len(t, rec.results, 1)
	assert.Equal(t, 1, rec.results[0].Escalated)
}

func TestRunAutoEscalate_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	c := openCase(t, m, model.SeverityCritical)
	s := NewScheduler(m, nil, Config{}, nil)

	now := t0.Add(5 * time.Hour)
	first, err := s.RunAutoEscalate(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Escalated)

	second, err := s.RunAutoEscalate(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, second.Escalated)

	got, err := m.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CountEntries(cases.EntrySLABreached))
}

type flakyManager struct {
	*cases.Manager
	failCase string
}

func (f *flakyManager) AutoEscalate(ctx context.Context, caseNumber string, now time.Time) (bool, error) {
	if caseNumber == f.failCase {
		return false, errors.New("store unavailable")
	}
	return f.Manager.AutoEscalate(ctx, caseNumber, now)
}

func TestRunAutoEscalate_ContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	bad := openCase(t, m, model.SeverityCritical)
	good := openCase(t, m, model.SeverityCritical)

	s := NewScheduler(&flakyManager{Manager: m, failCase: bad.CaseNumber}, nil, Config{}, nil)
	result, err := s.RunAutoEscalate(ctx, t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 1, result.Failed)

	require.Len(t, result.Errors, 1)
	var serr *faults.SLASchedulerError
	require.ErrorAs(t, result.Errors[0], &serr)
	assert.Equal(t, bad.CaseNumber, serr.CaseNumber)

	got, err := m.Get(ctx, good.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, cases.StatusEscalated, got.Status)
}

func TestRunAutoEscalate_AlertFailureDoesNotFailSweep(t *testing.T) {
	m := newManager(t)
	openCase(t, m, model.SeverityCritical)
	alerts := notify.NewRecorder()
	alerts.FailWith(errors.New("smtp down"))

	s := NewScheduler(m, alerts, Config{}, nil)
	result, err := s.RunAutoEscalate(context.Background(), t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.Zero(t, result.Failed)
}

func TestRunAutoEscalate_ChecksContext(t *testing.T) {
	m := newManager(t)
	c := openCase(t, m, model.SeverityCritical)
	s := NewScheduler(m, nil, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunAutoEscalate(ctx, t0.Add(5*time.Hour))
	assert.ErrorIs(t, err, context.Canceled)

	got, err := m.Get(context.Background(), c.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, cases.StatusOpen, got.Status)
}
