package engine

import (
	"fmt"
	"math"
	"time"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

// Facts is a read-only view of a vendor's facts keyed by dotted path.
// facts.FactSet satisfies it.
type Facts interface {
	Lookup(path string) (model.Value, bool)
}

// resolveField looks a path up in facts. Document groups such as
// "certifications" fall back to their expiry date attribute. The resolved
// value is coerced to the taxonomy kind so that stored date strings compare
// as dates.
func resolveField(path string, facts Facts) (model.Value, bool, error) {
	v, ok := facts.Lookup(path)
	spec, known := model.LookupField(path)
	if !ok && known && spec.Facet != "" {
		v, ok = facts.Lookup(path + "." + spec.Facet)
	}
	if !ok {
		return model.Value{}, false, nil
	}
	if !known {
		return v, true, nil
	}
	cv, ok := model.Coerce(v, spec.Kind)
	if !ok {
		return v, true, &faults.TypeMismatchError{
			FieldName:    path,
			ExpectedType: string(spec.Kind),
			ActualType:   string(v.Kind()),
		}
	}
	return cv, true, nil
}

// daysUntil is the whole number of days from now until t, rounded down, so
// a date 36 hours ahead is 1 and one 12 hours past is -1.
func daysUntil(t, now time.Time) float64 {
	return math.Floor(t.Sub(now).Hours() / 24)
}

// applyTransform derives the compared value from the resolved one.
func applyTransform(path string, tr model.Transform, v model.Value, now time.Time) (model.Value, error) {
	switch tr {
	case model.TransformNone:
		return v, nil
	case model.TransformDaysUntilExpiry:
		d, ok := model.Coerce(v, model.KindDate)
		if !ok {
			return v, &faults.TypeMismatchError{
				FieldName:    path,
				ExpectedType: string(model.KindDate),
				ActualType:   string(v.Kind()),
			}
		}
		t, _ := d.AsDate()
		return model.Number(daysUntil(t, now)), nil
	default:
		return v, fmt.Errorf("unknown transform %q", tr)
	}
}
