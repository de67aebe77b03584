package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/vendor"
)

var _ vendor.Store = (*Store)(nil)

// GetProfile implements vendor.Store.
func (s *Store) GetProfile(ctx context.Context, vendorID string) (*vendor.Profile, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM vendor_profiles WHERE vendor_id = ?`), vendorID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &faults.NotFoundError{Entity: "vendor", ID: vendorID}
	}
	if err != nil {
		return nil, s.fail("get_profile", err)
	}

	var p vendor.Profile
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, s.fail("decode_profile", err)
	}
	return &p, nil
}

// SaveProfile implements vendor.Store. Version 0 inserts a new profile.
func (s *Store) SaveProfile(ctx context.Context, p *vendor.Profile) error {
	next := *p
	next.Version = p.Version + 1
	body, err := json.Marshal(&next)
	if err != nil {
		return s.fail("encode_profile", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if p.Version == 0 {
			res, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO vendor_profiles (vendor_id, version, body, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT (vendor_id) DO NOTHING`),
				p.VendorID, next.Version, string(body), formatTime(p.UpdatedAt),
			)
			if err != nil {
				return s.fail("insert_profile", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return s.profileConflict(ctx, tx, p.VendorID, p.Version)
			}
			return nil
		}

		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE vendor_profiles SET version = ?, body = ?, updated_at = ?
			WHERE vendor_id = ? AND version = ?`),
			next.Version, string(body), formatTime(p.UpdatedAt), p.VendorID, p.Version,
		)
		if err != nil {
			return s.fail("update_profile", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.profileConflict(ctx, tx, p.VendorID, p.Version)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Version = next.Version
	return nil
}

func (s *Store) profileConflict(ctx context.Context, tx *sql.Tx, vendorID string, expected int64) error {
	var actual int64
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT version FROM vendor_profiles WHERE vendor_id = ?`), vendorID).Scan(&actual)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s.fail("get_profile_version", err)
	}
	return &faults.ConcurrencyConflictError{Entity: "vendor", ID: vendorID, Expected: expected, Actual: actual}
}
