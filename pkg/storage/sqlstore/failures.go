package sqlstore

import (
	"context"

	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/model"
)

var _ engine.FailureLog = (*Store)(nil)

// RecordFailure implements engine.FailureLog.
func (s *Store) RecordFailure(ctx context.Context, f engine.ActionFailure) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO action_failures (id, vendor_id, policy_id, event_id, action_type, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.VendorID, f.PolicyID, f.EventID, string(f.ActionType), f.Error, formatTime(f.OccurredAt),
	)
	if err != nil {
		return s.fail("record_failure", err)
	}
	return nil
}

// ListFailures returns recorded failures for a vendor, or for every vendor
// when vendorID is empty, oldest first.
func (s *Store) ListFailures(ctx context.Context, vendorID string) ([]engine.ActionFailure, error) {
	query := `SELECT id, vendor_id, policy_id, event_id, action_type, error, occurred_at FROM action_failures`
	var args []interface{}
	if vendorID != "" {
		query += ` WHERE vendor_id = ?`
		args = append(args, vendorID)
	}
	query += ` ORDER BY occurred_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.fail("list_failures", err)
	}
	defer rows.Close()

	var out []engine.ActionFailure
	for rows.Next() {
		var (
			f          engine.ActionFailure
			actionType string
			occurred   string
		)
		if err := rows.Scan(&f.ID, &f.VendorID, &f.PolicyID, &f.EventID, &actionType, &f.Error, &occurred); err != nil {
			return nil, s.fail("scan_failure", err)
		}
		f.ActionType = model.ActionType(actionType)
		if f.OccurredAt, err = parseTime(occurred); err != nil {
			return nil, s.fail("decode_failure", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list_failures", err)
	}
	return out, nil
}
