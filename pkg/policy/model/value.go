package model

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind string

const (
	// KindNull is the zero Value; it never matches a declared field kind.
	KindNull Kind = "null"

	// KindNumber holds a float64.
	KindNumber Kind = "number"

	// KindString holds a string.
	KindString Kind = "string"

	// KindBool holds a bool.
	KindBool Kind = "bool"

	// KindDate holds a time.Time.
	KindDate Kind = "date"

	// KindList holds an ordered list of Values.
	KindList Kind = "list"
)

// DateLayouts are the accepted textual date formats, tried in order.
var DateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Value is a closed tagged variant for condition literals and fact values.
// The zero Value is KindNull.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
	t    time.Time
	list []Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date returns a date Value normalized to UTC.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t.UTC()} }

// List returns a list Value.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Kind returns the variant tag. The zero Value reports KindNull.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsDate returns the date payload.
func (v Value) AsDate() (time.Time, bool) { return v.t, v.kind == KindDate }

// AsList returns a copy of the list payload.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Equal reports typed equality. Numbers compare numerically, dates by instant,
// lists element-wise. Values of different kinds are never equal.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindNumber:
		return v.num == other.num
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.b == other.b
	case KindDate:
		return v.t.Equal(other.t)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Raw converts the Value back to a plain Go value (float64, string, bool,
// time.Time, []interface{} or nil).
func (v Value) Raw() interface{} {
	switch v.Kind() {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindDate:
		return v.t
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Raw()
		}
		return out
	}
	return nil
}

// String renders the Value for logs and reports.
func (v Value) String() string {
	switch v.Kind() {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.t.Format(time.RFC3339)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "null"
}

// FromRaw builds a Value from a decoded JSON/YAML value. Strings stay strings;
// use Coerce to turn them into dates once the field kind is known.
func FromRaw(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case time.Time:
		return Date(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", x, err)
		}
		return Number(f), nil
	case []interface{}:
		items := make([]Value, 0, len(x))
		for i, elem := range x {
			item, err := FromRaw(elem)
			if err != nil {
				return Null(), fmt.Errorf("list element %d: %w", i, err)
			}
			items = append(items, item)
		}
		return Value{kind: KindList, list: items}, nil
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = String(s)
		}
		return Value{kind: KindList, list: items}, nil
	}

	// Fall back to reflection for typed slices ([]float64, []int, ...)
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := FromRaw(rv.Index(i).Interface())
			if err != nil {
				return Null(), fmt.Errorf("list element %d: %w", i, err)
			}
			items = append(items, item)
		}
		return Value{kind: KindList, list: items}, nil
	}

	return Null(), fmt.Errorf("unsupported value type %T", raw)
}

// ParseDate parses a date string using DateLayouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// Coerce converts v to the wanted kind when a lossless conversion exists.
// The only conversion is date strings to dates; numeric strings stay strings.
// It returns false when v cannot represent the wanted kind.
func Coerce(v Value, want Kind) (Value, bool) {
	if v.Kind() == want {
		return v, true
	}
	if want == KindDate {
		if s, ok := v.AsString(); ok {
			t, err := ParseDate(s)
			if err != nil {
				return v, false
			}
			return Date(t), true
		}
	}
	return v, false
}

// CoerceElements coerces every element of a list Value to the wanted kind.
func CoerceElements(v Value, want Kind) (Value, bool) {
	items, ok := v.AsList()
	if !ok {
		return v, false
	}
	for i, item := range items {
		c, ok := Coerce(item, want)
		if !ok {
			return v, false
		}
		items[i] = c
	}
	return Value{kind: KindList, list: items}, true
}

// MarshalJSON encodes the Value as its plain JSON form; dates become RFC 3339 strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind() == KindNumber && (math.IsNaN(v.num) || math.IsInf(v.num, 0)) {
		return nil, fmt.Errorf("cannot encode non-finite number")
	}
	if v.Kind() == KindDate {
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	}
	if v.Kind() == KindList {
		return json.Marshal(v.list)
	}
	return json.Marshal(v.Raw())
}

// UnmarshalJSON decodes a plain JSON value. Strings remain strings until
// coerced against the field taxonomy.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromRaw(normalizeNumbers(raw))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// normalizeNumbers converts json.Number leaves so lists decode uniformly.
func normalizeNumbers(raw interface{}) interface{} {
	switch x := raw.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []interface{}:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	}
	return raw
}
