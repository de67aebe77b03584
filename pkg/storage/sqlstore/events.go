package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/faults"
)

var _ facts.Store = (*Store)(nil)

// AppendEvent implements facts.Store.
func (s *Store) AppendEvent(ctx context.Context, e *facts.Event) (*facts.Event, error) {
	cp := *e
	cp.Sequence = 0
	body, err := json.Marshal(&cp)
	if err != nil {
		return nil, s.fail("encode_event", err)
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO events (id, vendor_id, event_type, body, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING seq`),
		e.ID, e.VendorID, e.EventType, string(body), formatTime(e.RecordedAt),
	).Scan(&seq)
	if isUniqueViolation(err) {
		return nil, faults.NewValidationError("event", e.ID, "event already recorded")
	}
	if err != nil {
		return nil, s.fail("append_event", err)
	}

	cp.Sequence = seq
	return &cp, nil
}

// GetEvent implements facts.Store.
func (s *Store) GetEvent(ctx context.Context, id string) (*facts.Event, error) {
	var (
		seq  int64
		body string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT seq, body FROM events WHERE id = ?`), id).Scan(&seq, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &faults.NotFoundError{Entity: "event", ID: id}
	}
	if err != nil {
		return nil, s.fail("get_event", err)
	}
	return s.decodeEvent(seq, body)
}

// ListEvents implements facts.Store.
func (s *Store) ListEvents(ctx context.Context, vendorID string) ([]*facts.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT seq, body FROM events WHERE vendor_id = ? ORDER BY seq`), vendorID)
	if err != nil {
		return nil, s.fail("list_events", err)
	}
	defer rows.Close()

	out := []*facts.Event{}
	for rows.Next() {
		var (
			seq  int64
			body string
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, s.fail("scan_event", err)
		}
		e, err := s.decodeEvent(seq, body)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list_events", err)
	}
	return out, nil
}

// ListVendorIDs implements facts.Store.
func (s *Store) ListVendorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT vendor_id FROM events ORDER BY vendor_id`)
	if err != nil {
		return nil, s.fail("list_vendor_ids", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("scan_vendor_id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list_vendor_ids", err)
	}
	return out, nil
}

func (s *Store) decodeEvent(seq int64, body string) (*facts.Event, error) {
	var e facts.Event
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, s.fail("decode_event", err)
	}
	e.Sequence = seq
	return &e, nil
}
