package facts

import (
	"fmt"
	"sort"

	"mercator-hq/warden/pkg/policy/model"
)

// FactSet is a flat view of a vendor's facts keyed by dotted taxonomy path.
type FactSet map[string]model.Value

// Lookup returns the value at path. Null values are reported as absent.
func (f FactSet) Lookup(path string) (model.Value, bool) {
	v, ok := f[path]
	if !ok || v.IsNull() {
		return model.Value{}, false
	}
	return v, true
}

// Set stores v at path.
func (f FactSet) Set(path string, v model.Value) {
	f[path] = v
}

// Merge copies every entry of other into f, overwriting existing paths.
func (f FactSet) Merge(other FactSet) {
	for k, v := range other {
		f[k] = v
	}
}

// Clone returns a copy of the fact set.
func (f FactSet) Clone() FactSet {
	out := make(FactSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Paths returns the stored paths in sorted order.
func (f FactSet) Paths() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Raw converts the fact set into plain values keyed by path.
func (f FactSet) Raw() map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		out[k] = v.Raw()
	}
	return out
}

// FromRaw builds a fact set from decoded JSON/YAML. Nested maps are
// flattened into dotted paths and values of known taxonomy fields are
// coerced to their declared kind when possible.
func FromRaw(raw map[string]interface{}) (FactSet, error) {
	out := FactSet{}
	if err := flatten("", raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(prefix string, raw map[string]interface{}, out FactSet) error {
	for k, val := range raw {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch nested := val.(type) {
		case map[string]interface{}:
			if err := flatten(path, nested, out); err != nil {
				return err
			}
			continue
		case map[interface{}]interface{}:
			m := make(map[string]interface{}, len(nested))
			for nk, nv := range nested {
				m[fmt.Sprint(nk)] = nv
			}
			if err := flatten(path, m, out); err != nil {
				return err
			}
			continue
		}

		v, err := model.FromRaw(val)
		if err != nil {
			return fmt.Errorf("fact %q: %w", path, err)
		}
		if spec, ok := model.LookupField(path); ok {
			if c, ok := model.Coerce(v, spec.Kind); ok {
				v = c
			} else if spec.Kind == model.KindList {
				v = model.List(v)
			}
		}
		out[path] = v
	}
	return nil
}

// Project folds a vendor's events into a fact set. Events are applied in
// sequence order so newer events supersede older values for the same path.
// Per-type counters, last-seen timestamps and the list of seen types are
// derived as well.
func Project(events []*Event) FactSet {
	ordered := make([]*Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	out := FactSet{}
	counts := map[string]int{}
	for _, e := range ordered {
		counts[e.EventType]++
		prefix := "events." + e.EventType
		out.Set(prefix+".count", model.Number(float64(counts[e.EventType])))
		if last, ok := out.Lookup(prefix + ".lastSeen"); ok {
			if t, _ := last.AsDate(); e.Timestamp.After(t) {
				out.Set(prefix+".lastSeen", model.Date(e.Timestamp))
			}
		} else {
			out.Set(prefix+".lastSeen", model.Date(e.Timestamp))
		}
		if e.Severity != "" {
			out.Set(prefix+".severity", model.String(string(e.Severity)))
		}
		out.Merge(derivedFacts(e))
	}

	if len(counts) > 0 {
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		items := make([]model.Value, len(types))
		for i, t := range types {
			items[i] = model.String(t)
		}
		out.Set("events.types", model.List(items...))
	}
	return out
}
