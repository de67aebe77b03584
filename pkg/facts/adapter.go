package facts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Adapter records signals as events and projects a vendor's events into
// the fact set policies are evaluated against.
type Adapter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAdapter creates a fact store adapter over store.
func NewAdapter(store Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		store:  store,
		logger: logger.With("component", "facts"),
		now:    time.Now,
	}
}

// WithClock overrides the adapter's time source.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// Record validates, enriches and appends a signal.
func (a *Adapter) Record(ctx context.Context, s Signal) (*Event, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	ts := s.Timestamp
	if ts.IsZero() {
		ts = now
	}

	e := &Event{
		ID:         uuid.NewString(),
		EventType:  s.EventType,
		VendorID:   s.VendorID,
		Source:     s.Source,
		Severity:   s.Severity,
		Payload:    s.Payload,
		Attributes: s.Attributes,
		CaseRef:    s.CaseRef,
		Timestamp:  ts.UTC(),
		RecordedAt: now,
		Confidence: Confidence(s.Source, s.Payload),
		Enriched:   Enrich(s.EventType, s.Payload),
	}
	e.SuggestedActions = SuggestActions(e.EventType, e.Confidence)

	stored, err := a.store.AppendEvent(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	a.logger.Debug("event recorded",
		"event_id", stored.ID,
		"vendor_id", stored.VendorID,
		"event_type", stored.EventType,
		"sequence", stored.Sequence,
		"confidence", stored.Confidence,
	)
	return stored, nil
}

// Snapshot returns the current fact set for a vendor.
func (a *Adapter) Snapshot(ctx context.Context, vendorID string) (FactSet, error) {
	events, err := a.store.ListEvents(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for vendor %s: %w", vendorID, err)
	}
	return Project(events), nil
}

// Vendors lists vendors with recorded events.
func (a *Adapter) Vendors(ctx context.Context) ([]string, error) {
	return a.store.ListVendorIDs(ctx)
}
