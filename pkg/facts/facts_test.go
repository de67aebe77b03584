package facts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		payload map[string]interface{}
		want    float64
	}{
		{"unknown source no payload", "carrier-pigeon", nil, 0.5},
		{"sanctions no payload", "OFAC_Sanctions_Screening", nil, 0.95},
		{"credit full payload", "credit_rating_agency", map[string]interface{}{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6}, 0.93},
		{"webhook one field", "partner_webhook", map[string]interface{}{"a": 1}, 0.55},
		{"manual two fields", "manual_entry", map[string]interface{}{"a": 1, "b": 2}, 0.54},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.source, tt.payload), 1e-9)
		})
	}
}

func TestEnrich(t *testing.T) {
	got := Enrich(EventSanctionsHit, map[string]interface{}{"score": 0.9, "lists": []interface{}{"OFAC"}})
	assert.Equal(t, "unknown", got["matchType"])
	assert.Equal(t, 0.9, got["matchScore"])
	assert.Equal(t, []interface{}{"OFAC"}, got["sanctionLists"])

	got = Enrich(EventCreditRatingChange, map[string]interface{}{"previousRating": "BBB", "newRating": "A"})
	assert.Equal(t, "upgrade", got["direction"])

	got = Enrich(EventCreditRatingChange, map[string]interface{}{"previousRating": "A", "newRating": "BB"})
	assert.Equal(t, "downgrade", got["direction"])

	assert.Nil(t, Enrich("heartbeat", map[string]interface{}{"x": 1}))
}

func TestSuggestActions(t *testing.T) {
	tests := []struct {
		name           string
		eventType      string
		confidence     float64
		wantActions    []string
		wantValidation bool
	}{
		{"sanctions confident", EventSanctionsHit, 0.95, []string{"immediate_review", "suspend_transactions", "escalate_to_legal"}, false},
		{"at cutoff", EventDocumentExpired, 0.7, []string{"request_renewal", "hold_new_orders"}, false},
		{"just below cutoff", EventDocumentExpired, 0.69, []string{"request_renewal", "hold_new_orders"}, true},
		{"expiring", EventDocumentExpiring, 0.9, []string{"send_renewal_reminder"}, false},
		{"unknown type", "heartbeat", 0.5, []string{"manual_review"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestActions(tt.eventType, tt.confidence)
			require.Len(t, got, len(tt.wantActions))
			for i, a := range got {
				assert.Equal(t, tt.wantActions[i], a.Action)
				assert.Equal(t, tt.wantValidation, a.RequiresValidation)
			}
		})
	}

	// results are copies; flagging one call does not leak into the next
	low := SuggestActions(EventSanctionsHit, 0.1)
	low[0].Priority = model.SeverityLow
	high := SuggestActions(EventSanctionsHit, 0.99)
	assert.False(t, high[0].RequiresValidation)
	assert.Equal(t, model.SeverityCritical, high[0].Priority)
}

func TestSignalValidate(t *testing.T) {
	err := Signal{}.Validate()
	require.Error(t, err)
	assert.True(t, faults.IsValidation(err))

	err = Signal{
		EventType:  "manual",
		VendorID:   "v1",
		Attributes: map[string]interface{}{"risk.score": "high", "vendor.mood": 1},
	}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk.score")
	assert.Contains(t, err.Error(), "vendor.mood")

	assert.NoError(t, Signal{
		EventType:  "manual",
		VendorID:   "v1",
		Attributes: map[string]interface{}{"risk.score": 42, "insurance.expiryDate": "2026-05-01"},
	}.Validate())
}

func TestFromRaw_FlattensAndCoerces(t *testing.T) {
	fs, err := FromRaw(map[string]interface{}{
		"risk": map[string]interface{}{"score": 55},
		"certifications": map[string]interface{}{
			"expiryDate": "2025-12-31",
		},
		"profile.tags": "strategic",
	})
	require.NoError(t, err)

	v, ok := fs.Lookup("risk.score")
	require.True(t, ok)
	n, _ := v.AsNumber()
	assert.Equal(t, 55.0, n)

	v, ok = fs.Lookup("certifications.expiryDate")
	require.True(t, ok)
	assert.Equal(t, model.KindDate, v.Kind())

	v, _ = fs.Lookup("profile.tags")
	assert.Equal(t, model.KindList, v.Kind())
}

func TestProject_NewerEventsSupersede(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []*Event{
		{Sequence: 2, EventType: EventRiskScoreUpdate, Timestamp: t0.Add(time.Hour), Payload: map[string]interface{}{"score": 35.0}},
		{Sequence: 1, EventType: EventRiskScoreUpdate, Timestamp: t0, Payload: map[string]interface{}{"score": 85.0}},
		{Sequence: 3, EventType: EventDocumentExpired, Severity: model.SeverityHigh, Timestamp: t0, Payload: map[string]interface{}{"type": "insurance", "expiryDate": "2025-12-01"}},
	}
	fs := Project(events)

	score, _ := fs.Lookup("risk.score")
	n, _ := score.AsNumber()
	assert.Equal(t, 35.0, n)

	tier, _ := fs.Lookup("risk.tier")
	s, _ := tier.AsString()
	assert.Equal(t, "critical", s)

	count, _ := fs.Lookup("events.risk_score_update.count")
	n, _ = count.AsNumber()
	assert.Equal(t, 2.0, n)

	last, _ := fs.Lookup("events.risk_score_update.lastSeen")
	d, _ := last.AsDate()
	assert.Equal(t, t0.Add(time.Hour), d)

	for _, path := range []string{"documents.insurance.expiryDate", "insurance.expiryDate"} {
		v, ok := fs.Lookup(path)
		require.True(t, ok, path)
		assert.Equal(t, model.KindDate, v.Kind())
	}
	status, _ := fs.Lookup("insurance.status")
	s, _ = status.AsString()
	assert.Equal(t, "expired", s)

	types, _ := fs.Lookup("events.types")
	assert.True(t, types.Equal(model.List(model.String(EventDocumentExpired), model.String(EventRiskScoreUpdate))))
}

func TestProject_AttributesWinOverPayload(t *testing.T) {
	fs := Project([]*Event{{
		Sequence:   1,
		EventType:  EventSanctionsHit,
		Payload:    map[string]interface{}{"score": 0.4},
		Attributes: map[string]interface{}{"risk.factors.sanctionsMatch": 0.99},
	}})
	v, _ := fs.Lookup("risk.factors.sanctionsMatch")
	n, _ := v.AsNumber()
	assert.Equal(t, 0.99, n)

	flag, _ := fs.Lookup("risk.sanctionsFlagged")
	b, _ := flag.AsBool()
	assert.True(t, b)
}

func TestAdapter_RecordAndSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	a := NewAdapter(store, nil).WithClock(func() time.Time { return now })

	e1, err := a.Record(ctx, Signal{EventType: EventAuditResult, VendorID: "v1", Source: "manual_entry", Payload: map[string]interface{}{"score": 72}})
	require.NoError(t, err)
	e2, err := a.Record(ctx, Signal{EventType: EventAdverseMediaAlert, VendorID: "v1", Source: "adverse_media"})
	require.NoError(t, err)

	assert.NotEmpty(t, e1.ID)
	assert.Equal(t, now, e1.Timestamp)
	assert.Less(t, e1.Sequence, e2.Sequence)
	assert.Equal(t, 0.75, e2.Confidence)
	require.Len(t, e1.SuggestedActions, 1)
	assert.Equal(t, "manual_review", e1.SuggestedActions[0].Action)
	assert.True(t, e1.SuggestedActions[0].RequiresValidation)
	require.Len(t, e2.SuggestedActions, 2)
	assert.False(t, e2.SuggestedActions[0].RequiresValidation)

	fs, err := a.Snapshot(ctx, "v1")
	require.NoError(t, err)
	v, ok := fs.Lookup("history.lastAuditDate")
	require.True(t, ok)
	d, _ := v.AsDate()
	assert.Equal(t, now, d)

	_, err = a.Record(ctx, Signal{VendorID: "v1"})
	assert.True(t, faults.IsValidation(err))

	got, err := store.GetEvent(ctx, e2.ID)
	require.NoError(t, err)
	assert.Equal(t, e2.Sequence, got.Sequence)

	_, err = store.GetEvent(ctx, "missing")
	assert.True(t, faults.IsNotFound(err))
}
