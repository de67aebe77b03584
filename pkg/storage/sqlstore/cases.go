package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/faults"
)

var _ cases.Store = (*Store)(nil)

// caseBody encodes a case without its audit trail, which lives in
// case_actions.
func caseBody(c *cases.Case) (string, error) {
	cp := *c
	cp.Actions = nil
	b, err := json.Marshal(&cp)
	return string(b), err
}

// CreateCase implements cases.Store.
func (s *Store) CreateCase(ctx context.Context, c *cases.Case) error {
	body, err := caseBody(c)
	if err != nil {
		return s.fail("encode_case", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO cases (case_number, id, vendor_id, policy_id, status, severity, assigned_to,
				sla_deadline, created_at, version, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			c.CaseNumber, c.ID, c.VendorID, c.PolicyID, string(c.Status), string(c.Severity), c.AssignedTo,
			formatTime(c.SLADeadline), formatTime(c.CreatedAt), c.Version, body,
		)
		if isUniqueViolation(err) {
			return faults.NewValidationError("case", c.CaseNumber, "case number already exists")
		}
		if err != nil {
			return s.fail("create_case", err)
		}
		return s.insertActions(ctx, tx, c.CaseNumber, c.Actions, 0)
	})
}

// GetCase implements cases.Store.
func (s *Store) GetCase(ctx context.Context, caseNumber string) (*cases.Case, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM cases WHERE case_number = ?`), caseNumber).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &faults.NotFoundError{Entity: "case", ID: caseNumber}
	}
	if err != nil {
		return nil, s.fail("get_case", err)
	}

	var c cases.Case
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, s.fail("decode_case", err)
	}
	actions, err := s.loadActions(ctx, []string{caseNumber})
	if err != nil {
		return nil, err
	}
	c.Actions = actions[caseNumber]
	return &c, nil
}

// UpdateCase implements cases.Store.
func (s *Store) UpdateCase(ctx context.Context, c *cases.Case, expectedVersion int64) error {
	next := *c
	next.Version = expectedVersion + 1
	body, err := caseBody(&next)
	if err != nil {
		return s.fail("encode_case", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE cases
			SET status = ?, severity = ?, assigned_to = ?, sla_deadline = ?, version = ?, body = ?
			WHERE case_number = ? AND version = ?`),
			string(c.Status), string(c.Severity), c.AssignedTo, formatTime(c.SLADeadline), next.Version, body,
			c.CaseNumber, expectedVersion,
		)
		if err != nil {
			return s.fail("update_case", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return s.fail("update_case", err)
		} else if n == 0 {
			return s.caseConflict(ctx, tx, c.CaseNumber, expectedVersion)
		}

		var stored int
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM case_actions WHERE case_number = ?`),
			c.CaseNumber).Scan(&stored); err != nil {
			return s.fail("count_case_actions", err)
		}
		if stored > len(c.Actions) {
			return s.fail("update_case", errors.New("audit trail is shorter than the stored one"))
		}
		return s.insertActions(ctx, tx, c.CaseNumber, c.Actions[stored:], stored)
	})
	if err != nil {
		return err
	}
	c.Version = next.Version
	return nil
}

func (s *Store) caseConflict(ctx context.Context, tx *sql.Tx, caseNumber string, expected int64) error {
	var actual int64
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT version FROM cases WHERE case_number = ?`), caseNumber).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return &faults.NotFoundError{Entity: "case", ID: caseNumber}
	}
	if err != nil {
		return s.fail("get_case_version", err)
	}
	return &faults.ConcurrencyConflictError{Entity: "case", ID: caseNumber, Expected: expected, Actual: actual}
}

func (s *Store) insertActions(ctx context.Context, tx *sql.Tx, caseNumber string, actions []cases.CaseAction, firstSeq int) error {
	for i, a := range actions {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO case_actions (id, case_number, seq, action, performed_by, notes, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			a.ID, caseNumber, firstSeq+i, a.Action, a.PerformedBy, a.Notes, formatTime(a.Timestamp),
		)
		if err != nil {
			return s.fail("insert_case_action", err)
		}
	}
	return nil
}

// loadActions returns the audit trails of the given cases keyed by case number.
func (s *Store) loadActions(ctx context.Context, numbers []string) (map[string][]cases.CaseAction, error) {
	out := make(map[string][]cases.CaseAction, len(numbers))
	if len(numbers) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(numbers))
	for i, n := range numbers {
		args[i] = n
		out[n] = []cases.CaseAction{}
	}
	query := `SELECT case_number, id, action, performed_by, notes, ts FROM case_actions
		WHERE case_number IN (` + placeholders(len(numbers)) + `) ORDER BY case_number, seq`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.fail("list_case_actions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			number string
			a      cases.CaseAction
			ts     string
		)
		if err := rows.Scan(&number, &a.ID, &a.Action, &a.PerformedBy, &a.Notes, &ts); err != nil {
			return nil, s.fail("scan_case_action", err)
		}
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, s.fail("decode_case_action", err)
		}
		out[number] = append(out[number], a)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list_case_actions", err)
	}
	return out, nil
}

// ListCases implements cases.Store.
func (s *Store) ListCases(ctx context.Context, f cases.Filter) ([]*cases.Case, error) {
	var where []string
	var args []interface{}
	if f.VendorID != "" {
		where = append(where, "vendor_id = ?")
		args = append(args, f.VendorID)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if f.PolicyID != "" {
		where = append(where, "policy_id = ?")
		args = append(args, f.PolicyID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}

	query := `SELECT body FROM cases`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, case_number DESC"
	switch {
	case f.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	case f.Offset > 0 && s.driver == DriverPostgres:
		query += " OFFSET ?"
		args = append(args, f.Offset)
	case f.Offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	return s.queryCases(ctx, "list_cases", query, args...)
}

// ListDue implements cases.Store.
func (s *Store) ListDue(ctx context.Context, before time.Time) ([]*cases.Case, error) {
	args := make([]interface{}, 0, len(cases.NonTerminal)+1)
	for _, st := range cases.NonTerminal {
		args = append(args, string(st))
	}
	args = append(args, formatTime(before))

	query := `SELECT body FROM cases
		WHERE status IN (` + placeholders(len(cases.NonTerminal)) + `) AND sla_deadline <= ?
		ORDER BY sla_deadline, case_number`
	return s.queryCases(ctx, "list_due_cases", query, args...)
}

func (s *Store) queryCases(ctx context.Context, op, query string, args ...interface{}) ([]*cases.Case, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	out := []*cases.Case{}
	var numbers []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, s.fail(op, err)
		}
		var c cases.Case
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, s.fail("decode_case", err)
		}
		out = append(out, &c)
		numbers = append(numbers, c.CaseNumber)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}

	actions, err := s.loadActions(ctx, numbers)
	if err != nil {
		return nil, err
	}
	for _, c := range out {
		c.Actions = actions[c.CaseNumber]
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
