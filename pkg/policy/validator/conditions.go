package validator

import (
	"errors"
	"fmt"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

// comparisonKind is the kind the literal is compared against.
func comparisonKind(spec model.FieldSpec, tr model.Transform) model.Kind {
	if tr == model.TransformDaysUntilExpiry {
		return model.KindNumber
	}
	return spec.Kind
}

func normalizeCondition(c model.Condition) model.Condition {
	path, tr, err := c.Target()
	if err != nil {
		return c
	}
	c.Field = path
	c.Transform = tr

	spec, ok := model.LookupField(path)
	if !ok {
		return c
	}
	want := comparisonKind(spec, tr)

	switch c.Operator {
	case model.OperatorIn, model.OperatorNotIn:
		if v, ok := model.CoerceElements(c.Value, want); ok {
			c.Value = v
		}
	case model.OperatorEquals, model.OperatorNotEquals, model.OperatorGreaterThan, model.OperatorLessThan:
		if v, ok := model.Coerce(c.Value, want); ok {
			c.Value = v
		}
	}
	return c
}

func mismatch(field string, expected, actual model.Kind) error {
	return &faults.TypeMismatchError{
		FieldName:    field,
		ExpectedType: string(expected),
		ActualType:   string(actual),
	}
}

// conditionProblems checks one condition against the taxonomy and operator rules.
// Literal kind errors are *faults.TypeMismatchError.
func conditionProblems(c model.Condition) []error {
	var out []error

	if c.Field == "" {
		out = append(out, errors.New("field is required"))
	}
	switch c.LogicalOperator {
	case "", model.LogicalAnd, model.LogicalOr:
	default:
		out = append(out, fmt.Errorf("logical operator %q is not one of AND, OR", c.LogicalOperator))
	}
	if !c.Operator.IsValid() {
		return append(out, fmt.Errorf("unknown operator %q", c.Operator))
	}
	if c.Operator == model.OperatorDaysUntilExpiry {
		return append(out, errors.New("days_until_expiry is a field transform, not an operator: "+
			"use transform: days_until_expiry (or daysUntilExpiry(field)) with greater_than, less_than, equals or not_equals"))
	}
	if c.Field == "" {
		return out
	}

	path, tr, err := c.Target()
	if err != nil {
		return append(out, err)
	}
	if tr != model.TransformNone && tr != model.TransformDaysUntilExpiry {
		return append(out, fmt.Errorf("unknown transform %q", tr))
	}
	spec, ok := model.LookupField(path)
	if !ok {
		return append(out, fmt.Errorf("field %q is not in the field taxonomy", path))
	}

	if tr == model.TransformDaysUntilExpiry {
		if spec.Kind != model.KindDate {
			out = append(out, fmt.Errorf("days_until_expiry needs a date field, %q is %s", path, spec.Kind))
		}
		switch c.Operator {
		case model.OperatorGreaterThan, model.OperatorLessThan, model.OperatorEquals, model.OperatorNotEquals:
		default:
			out = append(out, fmt.Errorf("days_until_expiry is compared with greater_than, less_than, equals or not_equals, not %s", c.Operator))
		}
		if c.Value.Kind() != model.KindNumber {
			out = append(out, mismatch(c.Field, model.KindNumber, c.Value.Kind()))
		}
		return out
	}

	want := comparisonKind(spec, tr)
	switch c.Operator {
	case model.OperatorExists:
		// The literal is ignored.

	case model.OperatorIsExpired:
		if want != model.KindDate {
			out = append(out, fmt.Errorf("is_expired needs a date field, %q is %s", path, want))
		}
		if k := c.Value.Kind(); k != model.KindNull && k != model.KindBool {
			out = append(out, mismatch(c.Field, model.KindBool, k))
		}

	case model.OperatorGreaterThan, model.OperatorLessThan:
		if want != model.KindNumber && want != model.KindDate {
			out = append(out, fmt.Errorf("%s needs a number or date field, %q is %s", c.Operator, path, want))
			break
		}
		if _, ok := model.Coerce(c.Value, want); !ok {
			out = append(out, mismatch(c.Field, want, c.Value.Kind()))
		}

	case model.OperatorEquals, model.OperatorNotEquals:
		if _, ok := model.Coerce(c.Value, want); !ok {
			out = append(out, mismatch(c.Field, want, c.Value.Kind()))
		}

	case model.OperatorContains, model.OperatorNotContains:
		switch want {
		case model.KindString:
			if c.Value.Kind() != model.KindString {
				out = append(out, mismatch(c.Field, model.KindString, c.Value.Kind()))
			}
		case model.KindList:
			if k := c.Value.Kind(); k == model.KindNull || k == model.KindList {
				out = append(out, fmt.Errorf("%s on list field %q needs a single element value", c.Operator, path))
			}
		default:
			out = append(out, fmt.Errorf("%s needs a string or list field, %q is %s", c.Operator, path, want))
		}

	case model.OperatorIn, model.OperatorNotIn:
		if c.Value.Kind() != model.KindList {
			out = append(out, fmt.Errorf("%s needs a list value, got %s", c.Operator, c.Value.Kind()))
			break
		}
		if want == model.KindList {
			out = append(out, fmt.Errorf("%s cannot be used on list field %q; use contains", c.Operator, path))
			break
		}
		if _, ok := model.CoerceElements(c.Value, want); !ok {
			out = append(out, fmt.Errorf("every element of the %s list must be %s", c.Operator, want))
		}
	}
	return out
}
