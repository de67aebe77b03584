package engine

import (
	"fmt"
	"strings"
	"time"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

// Evaluator decides single conditions against a fact set. It is pure: the
// same condition, facts and time always give the same answer.
type Evaluator struct{}

// NewEvaluator creates a condition evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate reports whether cond holds for facts at now.
//
// A missing field makes every operator except exists fail with a
// *faults.FieldNotFoundError; exists simply reports false. A literal that
// cannot be compared with the resolved field fails with a
// *faults.TypeMismatchError. A failed condition always reports false.
func (e *Evaluator) Evaluate(cond model.Condition, facts Facts, now time.Time) (bool, error) {
	if cond.Operator == model.OperatorDaysUntilExpiry {
		return false, fmt.Errorf("%s: %w", cond.Field, ErrTransformAsOperator)
	}

	path, tr, err := cond.Target()
	if err != nil {
		return false, err
	}

	actual, found, err := resolveField(path, facts)
	if err != nil {
		return false, err
	}
	if !found {
		if cond.Operator == model.OperatorExists {
			return false, nil
		}
		return false, &faults.FieldNotFoundError{FieldName: path}
	}

	actual, err = applyTransform(path, tr, actual, now)
	if err != nil {
		return false, err
	}

	return evaluateOperator(cond.Operator, path, actual, cond.Value, now)
}

// evaluateOperator compares a resolved, non-null value against a literal.
func evaluateOperator(op model.Operator, field string, actual, expected model.Value, now time.Time) (bool, error) {
	switch op {
	case model.OperatorExists:
		return !actual.IsNull(), nil

	case model.OperatorEquals:
		return evaluateEqual(field, actual, expected)

	case model.OperatorNotEquals:
		equal, err := evaluateEqual(field, actual, expected)
		if err != nil {
			return false, err
		}
		return !equal, nil

	case model.OperatorGreaterThan:
		c, err := compareOrdered(field, actual, expected)
		return err == nil && c > 0, err

	case model.OperatorLessThan:
		c, err := compareOrdered(field, actual, expected)
		return err == nil && c < 0, err

	case model.OperatorContains:
		return evaluateContains(field, actual, expected)

	case model.OperatorNotContains:
		contains, err := evaluateContains(field, actual, expected)
		if err != nil {
			return false, err
		}
		return !contains, nil

	case model.OperatorIn:
		return evaluateIn(field, actual, expected)

	case model.OperatorNotIn:
		in, err := evaluateIn(field, actual, expected)
		if err != nil {
			return false, err
		}
		return !in, nil

	case model.OperatorIsExpired:
		return evaluateExpired(field, actual, expected, now)

	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

func mismatch(field string, expected, actual model.Kind) error {
	return &faults.TypeMismatchError{
		FieldName:    field,
		ExpectedType: string(expected),
		ActualType:   string(actual),
	}
}

// evaluateEqual compares with typed equality after coercing the literal to
// the field's kind. Numbers compare numerically.
func evaluateEqual(field string, actual, expected model.Value) (bool, error) {
	lit, ok := model.Coerce(expected, actual.Kind())
	if !ok {
		return false, mismatch(field, actual.Kind(), expected.Kind())
	}
	return actual.Equal(lit), nil
}

// compareOrdered returns -1, 0 or 1. Only numbers and dates are ordered.
func compareOrdered(field string, actual, expected model.Value) (int, error) {
	switch actual.Kind() {
	case model.KindNumber:
		a, _ := actual.AsNumber()
		b, ok := expected.AsNumber()
		if !ok {
			return 0, mismatch(field, model.KindNumber, expected.Kind())
		}
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		}
		return 0, nil

	case model.KindDate:
		lit, ok := model.Coerce(expected, model.KindDate)
		if !ok {
			return 0, mismatch(field, model.KindDate, expected.Kind())
		}
		a, _ := actual.AsDate()
		b, _ := lit.AsDate()
		return a.Compare(b), nil

	default:
		return 0, &faults.TypeMismatchError{
			FieldName:    field,
			ExpectedType: "number or date",
			ActualType:   string(actual.Kind()),
		}
	}
}

// evaluateContains is substring containment on strings and element
// membership on lists.
func evaluateContains(field string, actual, expected model.Value) (bool, error) {
	switch actual.Kind() {
	case model.KindString:
		a, _ := actual.AsString()
		b, ok := expected.AsString()
		if !ok {
			return false, mismatch(field, model.KindString, expected.Kind())
		}
		return strings.Contains(a, b), nil

	case model.KindList:
		if k := expected.Kind(); k == model.KindList || k == model.KindNull {
			return false, mismatch(field, "element", k)
		}
		items, _ := actual.AsList()
		return containsValue(items, expected), nil

	default:
		return false, &faults.TypeMismatchError{
			FieldName:    field,
			ExpectedType: "string or list",
			ActualType:   string(actual.Kind()),
		}
	}
}

// evaluateIn reports whether actual is one of the literal list's elements.
func evaluateIn(field string, actual, expected model.Value) (bool, error) {
	items, ok := expected.AsList()
	if !ok {
		return false, mismatch(field, model.KindList, expected.Kind())
	}
	if actual.Kind() == model.KindList {
		return false, mismatch(field, "scalar", model.KindList)
	}
	return containsValue(items, actual), nil
}

// containsValue reports whether any item equals v once coerced to a common kind.
func containsValue(items []model.Value, v model.Value) bool {
	for _, item := range items {
		if lit, ok := model.Coerce(v, item.Kind()); ok && item.Equal(lit) {
			return true
		}
		if lit, ok := model.Coerce(item, v.Kind()); ok && v.Equal(lit) {
			return true
		}
	}
	return false
}

// evaluateExpired reports whether the date is before now. A false literal
// asks for the opposite; a missing literal means true.
func evaluateExpired(field string, actual, expected model.Value, now time.Time) (bool, error) {
	t, ok := actual.AsDate()
	if !ok {
		return false, mismatch(field, model.KindDate, actual.Kind())
	}
	expired := t.Before(now)

	switch expected.Kind() {
	case model.KindNull:
		return expired, nil
	case model.KindBool:
		want, _ := expected.AsBool()
		return expired == want, nil
	default:
		return false, mismatch(field, model.KindBool, expected.Kind())
	}
}
