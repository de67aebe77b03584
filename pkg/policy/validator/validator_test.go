package validator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

func validPolicy() *model.Policy {
	return &model.Policy{
		ID:       "pol-1",
		Name:     "Sanctions hit",
		Category: model.CategoryCompliance,
		Priority: 1,
		Conditions: []model.Condition{
			{Field: "risk.factors.sanctionsMatch", Operator: model.OperatorGreaterThan, Value: model.Number(0.8)},
		},
		Actions: []model.Action{
			{Type: model.ActionBlockPayments, Config: model.BlockPaymentsConfig{Reason: "sanctions"}},
		},
	}
}

func problemsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *faults.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Problems
}

func TestValidate_ValidPolicy(t *testing.T) {
	assert.NoError(t, New(Limits{}).Validate(validPolicy()))
}

func TestValidate_ConditionProblems(t *testing.T) {
	tests := []struct {
		name    string
		cond    model.Condition
		problem string
	}{
		{
			name:    "unknown field",
			cond:    model.Condition{Field: "vendor.mood", Operator: model.OperatorEquals, Value: model.String("x")},
			problem: "not in the field taxonomy",
		},
		{
			name:    "number field with string literal",
			cond:    model.Condition{Field: "risk.score", Operator: model.OperatorEquals, Value: model.String("80")},
			problem: "type mismatch",
		},
		{
			name:    "in without list",
			cond:    model.Condition{Field: "profile.country", Operator: model.OperatorIn, Value: model.String("IR")},
			problem: "needs a list value",
		},
		{
			name:    "in with wrong element kind",
			cond:    model.Condition{Field: "risk.score", Operator: model.OperatorIn, Value: model.List(model.String("a"))},
			problem: "every element",
		},
		{
			name:    "ordering on bool",
			cond:    model.Condition{Field: "risk.sanctionsFlagged", Operator: model.OperatorGreaterThan, Value: model.Bool(true)},
			problem: "needs a number or date field",
		},
		{
			name:    "is_expired on number",
			cond:    model.Condition{Field: "risk.score", Operator: model.OperatorIsExpired},
			problem: "needs a date field",
		},
		{
			name:    "days_until_expiry as operator",
			cond:    model.Condition{Field: "insurance", Operator: model.OperatorDaysUntilExpiry, Value: model.Number(30)},
			problem: "field transform, not an operator",
		},
		{
			name:    "transform on non-date",
			cond:    model.Condition{Field: "risk.score", Operator: model.OperatorLessThan, Value: model.Number(3), Transform: model.TransformDaysUntilExpiry},
			problem: "needs a date field",
		},
		{
			name:    "transform with contains",
			cond:    model.Condition{Field: "daysUntilExpiry(insurance)", Operator: model.OperatorContains, Value: model.Number(3)},
			problem: "is compared with",
		},
		{
			name:    "bad logical operator",
			cond:    model.Condition{Field: "risk.score", Operator: model.OperatorExists, LogicalOperator: "XOR"},
			problem: "logical operator",
		},
		{
			name:    "unknown operator",
			cond:    model.Condition{Field: "risk.score", Operator: "matches"},
			problem: "unknown operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			p.Conditions = []model.Condition{tt.cond}
			problems := problemsOf(t, New(Limits{}).Validate(p))
			require.Len(t, problems, 1, "problems: %v", problems)
			assert.Contains(t, problems[0], tt.problem)
			assert.True(t, strings.HasPrefix(problems[0], "conditions[0]: "))
		})
	}
}

func TestValidate_AccumulatesAllProblems(t *testing.T) {
	p := validPolicy()
	p.Name = ""
	p.Category = "legal"
	p.Actions = []model.Action{
		{Type: model.ActionUpdateTier, Config: model.UpdateTierConfig{}},
		{Type: model.ActionSendAlert, Config: model.SendAlertConfig{}},
		{Type: "delete_vendor"},
	}
	problems := problemsOf(t, New(Limits{}).Validate(p))
	assert.Len(t, problems, 5)
}

func TestValidate_LiteralMismatchIsTyped(t *testing.T) {
	p := validPolicy()
	p.Conditions = []model.Condition{
		{Field: "risk.score", Operator: model.OperatorGreaterThan, Value: model.Bool(true)},
	}
	err := New(Limits{}).Validate(p)
	require.Error(t, err)

	var tm *faults.TypeMismatchError
	require.True(t, errors.As(err, &tm), "expected TypeMismatchError, got %v", err)
	assert.Equal(t, "risk.score", tm.FieldName)
	assert.Equal(t, string(model.KindNumber), tm.ExpectedType)
	assert.Equal(t, string(model.KindBool), tm.ActualType)
	assert.True(t, faults.IsValidation(err))
}

func TestValidate_ActionConfigMismatch(t *testing.T) {
	p := validPolicy()
	p.Actions = []model.Action{{Type: model.ActionEscalate, Config: model.BlockPaymentsConfig{Reason: "x"}}}
	problems := problemsOf(t, New(Limits{}).Validate(p))
	assert.Contains(t, problems[0], "attached to escalate action")
}

func TestValidate_NilConfigUsesDefaults(t *testing.T) {
	p := validPolicy()
	p.Actions = []model.Action{{Type: model.ActionCreateCase}, {Type: model.ActionRequireReview}}
	assert.NoError(t, New(Limits{}).Validate(p))

	p.Actions = []model.Action{{Type: model.ActionWebhook}}
	problems := problemsOf(t, New(Limits{}).Validate(p))
	assert.Contains(t, problems[0], "url is required")
}

func TestValidate_ActiveRequiresApproval(t *testing.T) {
	p := validPolicy()
	p.IsActive = true
	p.ApprovalState = model.ApprovalDraft
	problems := problemsOf(t, New(Limits{}).Validate(p))
	assert.Contains(t, problems, "active policies must be approved")
}

func TestValidate_Limits(t *testing.T) {
	p := validPolicy()
	p.Conditions = append(p.Conditions, p.Conditions[0], p.Conditions[0])
	problems := problemsOf(t, New(Limits{MaxConditions: 2}).Validate(p))
	assert.Contains(t, problems[0], "too many conditions")
}

func TestNormalize_RewritesExpressionAndCoercesDates(t *testing.T) {
	p := validPolicy()
	p.Conditions = []model.Condition{
		{Field: "daysUntilExpiry(insurance)", Operator: model.OperatorLessThan, Value: model.Number(30)},
		{Field: "history.lastAuditDate", Operator: model.OperatorLessThan, Value: model.String("2026-01-01"), LogicalOperator: model.LogicalOr},
		{Field: "history.lastAuditDate", Operator: model.OperatorIn, Value: model.List(model.String("2025-06-30")), LogicalOperator: model.LogicalOr},
	}
	require.NoError(t, New(Limits{}).Normalize(p))

	assert.Equal(t, "insurance", p.Conditions[0].Field)
	assert.Equal(t, model.TransformDaysUntilExpiry, p.Conditions[0].Transform)

	d, ok := p.Conditions[1].Value.AsDate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), d)

	items, _ := p.Conditions[2].Value.AsList()
	assert.Equal(t, model.KindDate, items[0].Kind())
}

func TestNormalize_LeavesInvalidPolicyUntouched(t *testing.T) {
	p := validPolicy()
	p.Conditions = []model.Condition{
		{Field: "daysUntilExpiry(insurance)", Operator: model.OperatorContains, Value: model.Number(30)},
	}
	err := New(Limits{}).Normalize(p)
	require.Error(t, err)
	assert.True(t, faults.IsValidation(err))
	assert.Equal(t, "daysUntilExpiry(insurance)", p.Conditions[0].Field)
}

func TestValidateActivation(t *testing.T) {
	p := validPolicy()
	p.ApprovalState = model.ApprovalPendingApproval
	problems := problemsOf(t, ValidateActivation(p))
	assert.Len(t, problems, 1)

	p.ApprovalState = model.ApprovalApproved
	assert.NoError(t, ValidateActivation(p))

	p.Conditions = nil
	p.Actions = nil
	problems = problemsOf(t, ValidateActivation(p))
	assert.Len(t, problems, 2)
}
