package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/registry"
	"mercator-hq/warden/pkg/policy/validator"
)

var _ registry.Store = (*Store)(nil)

func decodePolicy(body string) (*model.Policy, error) {
	var p model.Policy
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, err
	}
	validator.NormalizeConditions(&p)
	return &p, nil
}

// CreatePolicy implements registry.Store.
func (s *Store) CreatePolicy(ctx context.Context, p *model.Policy) error {
	body, err := json.Marshal(p)
	if err != nil {
		return s.fail("encode_policy", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO policies (id, category, priority, is_active, approval_state, archived, revision, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, string(p.Category), p.Priority, p.IsActive, string(p.ApprovalState), p.Archived,
		p.Revision, string(body), formatTime(p.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return s.policyConflict(ctx, p.ID, 0)
	}
	if err != nil {
		return s.fail("create_policy", err)
	}
	return nil
}

// GetPolicy implements registry.Store.
func (s *Store) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM policies WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &faults.NotFoundError{Entity: "policy", ID: id}
	}
	if err != nil {
		return nil, s.fail("get_policy", err)
	}
	p, err := decodePolicy(body)
	if err != nil {
		return nil, s.fail("decode_policy", err)
	}
	return p, nil
}

// UpdatePolicy implements registry.Store.
func (s *Store) UpdatePolicy(ctx context.Context, p *model.Policy, expectedRevision int64) error {
	next := *p
	next.Revision = expectedRevision + 1
	body, err := json.Marshal(&next)
	if err != nil {
		return s.fail("encode_policy", err)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE policies
		SET category = ?, priority = ?, is_active = ?, approval_state = ?, archived = ?,
			revision = ?, body = ?, updated_at = ?
		WHERE id = ? AND revision = ?`),
		string(p.Category), p.Priority, p.IsActive, string(p.ApprovalState), p.Archived,
		next.Revision, string(body), formatTime(p.UpdatedAt),
		p.ID, expectedRevision,
	)
	if err != nil {
		return s.fail("update_policy", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return s.fail("update_policy", err)
	} else if n == 0 {
		return s.policyConflict(ctx, p.ID, expectedRevision)
	}

	p.Revision = next.Revision
	return nil
}

func (s *Store) policyConflict(ctx context.Context, id string, expected int64) error {
	var actual int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT revision FROM policies WHERE id = ?`), id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return &faults.NotFoundError{Entity: "policy", ID: id}
	}
	if err != nil {
		return s.fail("get_policy_revision", err)
	}
	return &faults.ConcurrencyConflictError{Entity: "policy", ID: id, Expected: expected, Actual: actual}
}

// DeletePolicy implements registry.Store.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM policies WHERE id = ?`), id)
		if err != nil {
			return s.fail("delete_policy", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &faults.NotFoundError{Entity: "policy", ID: id}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM policy_versions WHERE policy_id = ?`), id); err != nil {
			return s.fail("delete_policy_versions", err)
		}
		return nil
	})
}

// ListPolicies implements registry.Store.
func (s *Store) ListPolicies(ctx context.Context, f registry.Filter) ([]*model.Policy, error) {
	var where []string
	var args []interface{}
	if !f.IncludeArchived {
		where = append(where, "archived = ?")
		args = append(args, false)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.ApprovalState != "" {
		where = append(where, "approval_state = ?")
		args = append(args, string(f.ApprovalState))
	}

	query := `SELECT body FROM policies`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.fail("list_policies", err)
	}
	defer rows.Close()

	var out []*model.Policy
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, s.fail("scan_policy", err)
		}
		p, err := decodePolicy(body)
		if err != nil {
			return nil, s.fail("decode_policy", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list_policies", err)
	}

	// Ordering uses the engine's comparator so listings and snapshots agree.
	engine.SortPolicies(out)
	return registry.Paginate(out, f.Offset, f.Limit), nil
}

// AppendVersion implements registry.Store.
func (s *Store) AppendVersion(ctx context.Context, v registry.PolicyVersion) error {
	body, err := json.Marshal(v.Policy)
	if err != nil {
		return s.fail("encode_policy", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO policy_versions (policy_id, version, body, changed_by, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		v.PolicyID, v.Version, string(body), v.ChangedBy, v.Note, formatTime(v.CreatedAt),
	)
	if err != nil {
		return s.fail("append_version", err)
	}
	return nil
}

// ListVersions implements registry.Store.
func (s *Store) ListVersions(ctx context.Context, policyID string) ([]registry.PolicyVersion, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT version, body, changed_by, note, created_at
		FROM policy_versions WHERE policy_id = ? ORDER BY version`), policyID)
	if err != nil {
		return nil, s.fail("list_versions", err)
	}
	defer rows.Close()

	out := []registry.PolicyVersion{}
	for rows.Next() {
		var (
			v       registry.PolicyVersion
			body    string
			created string
		)
		if err := rows.Scan(&v.Version, &body, &v.ChangedBy, &v.Note, &created); err != nil {
			return nil, s.fail("scan_version", err)
		}
		if v.Policy, err = decodePolicy(body); err != nil {
			return nil, s.fail("decode_policy", err)
		}
		if v.CreatedAt, err = parseTime(created); err != nil {
			return nil, s.fail("decode_version", err)
		}
		v.PolicyID = policyID
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list_versions", err)
	}
	return out, nil
}
