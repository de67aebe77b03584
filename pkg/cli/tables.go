package cli

import (
	"strconv"
	"strings"
	"time"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/cases/sla"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/loader"
	"mercator-hq/warden/pkg/service"
)

const none = "-"

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}

func joinOrNone(items []string) string {
	return orNone(strings.Join(items, ","))
}

// LintFile is the lint outcome of one policy file.
type LintFile struct {
	File     string   `json:"file"`
	Policies []string `json:"policies,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// Valid reports whether the file had no problems.
func (f LintFile) Valid() bool { return len(f.Problems) == 0 }

// LintReport lists lint outcomes per file. A file with several problems
// renders one row per problem.
type LintReport struct {
	Files []LintFile `json:"files"`
}

// Invalid counts files with problems.
func (r LintReport) Invalid() int {
	n := 0
	for _, f := range r.Files {
		if !f.Valid() {
			n++
		}
	}
	return n
}

func (r LintReport) Columns() []string {
	return []string{"FILE", "STATUS", "POLICIES", "PROBLEM"}
}

func (r LintReport) Rows() [][]string {
	var rows [][]string
	for _, f := range r.Files {
		policies := joinOrNone(f.Policies)
		if f.Valid() {
			rows = append(rows, []string{f.File, "ok", policies, none})
			continue
		}
		for _, p := range f.Problems {
			rows = append(rows, []string{f.File, "invalid", policies, p})
		}
	}
	return rows
}

// EvaluationTable renders evaluation reports, one vendor per row.
type EvaluationTable []*service.EvaluationReport

func (t EvaluationTable) Columns() []string {
	return []string{"VENDOR", "CANDIDATES", "MATCHED", "FAILED_ACTIONS", "ERROR"}
}

func (t EvaluationTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			r.VendorID,
			strconv.Itoa(r.Candidates),
			joinOrNone(r.MatchedIDs()),
			strconv.Itoa(r.FailedActions),
			orNone(r.Error),
		})
	}
	return rows
}

// CaseTable renders cases, one per row.
type CaseTable []*cases.Case

func (t CaseTable) Columns() []string {
	return []string{"CASE", "VENDOR", "TYPE", "SEVERITY", "STATUS", "ASSIGNEE", "SLA_DEADLINE"}
}

func (t CaseTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		rows = append(rows, []string{
			c.CaseNumber,
			c.VendorID,
			string(c.Type),
			string(c.Severity),
			string(c.Status),
			orNone(c.AssignedTo),
			c.SLADeadline.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

// SweepTable renders one SLA sweep.
type SweepTable struct {
	sla.SweepResult
}

func (t SweepTable) Columns() []string {
	return []string{"SCANNED", "ESCALATED", "WARNED", "FAILED", "DURATION"}
}

func (t SweepTable) Rows() [][]string {
	return [][]string{{
		strconv.Itoa(t.Scanned),
		strconv.Itoa(t.Escalated),
		strconv.Itoa(t.Warned),
		strconv.Itoa(t.Failed),
		t.Duration.Round(time.Millisecond).String(),
	}}
}

// TestTable renders a policy dry run, one condition per row.
type TestTable struct {
	*engine.TestResult
}

func (t TestTable) Columns() []string {
	return []string{"#", "FIELD", "OPERATOR", "VALUE", "PASSED", "ERROR"}
}

func (t TestTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Evaluations))
	for _, c := range t.Evaluations {
		rows = append(rows, []string{
			strconv.Itoa(c.Index),
			c.Field,
			string(c.Operator),
			c.Value.String(),
			strconv.FormatBool(c.Passed),
			orNone(c.Error),
		})
	}
	return rows
}

// SyncTable renders a policy directory import, one policy per row.
// Errors come last and name the file or policy that failed.
type SyncTable struct {
	*loader.SyncReport
}

func (t SyncTable) Columns() []string {
	return []string{"POLICY", "OUTCOME"}
}

func (t SyncTable) Rows() [][]string {
	var rows [][]string
	add := func(ids []string, outcome string) {
		for _, id := range ids {
			rows = append(rows, []string{id, outcome})
		}
	}
	add(t.Created, "created")
	add(t.Updated, "updated")
	add(t.Unchanged, "unchanged")
	for _, e := range t.Errors {
		rows = append(rows, []string{e, "error"})
	}
	return rows
}
