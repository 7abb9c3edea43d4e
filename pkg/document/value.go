// Package document holds the value model shared by the extractor, the
// reconciler, the transformer and the search engine client: an ordered
// mapping of field names to a small tagged union of JSON-shaped values.
package document

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind tags the shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// IsScalar reports whether the kind is a string, number or bool.
func (k Kind) IsScalar() bool {
	return k == KindString || k == KindNumber || k == KindBool
}

// Value is one field value. The zero Value is null.
//
// Numbers are stored as their decimal literal so 64-bit identifiers
// survive a round trip through the value model unchanged.
type Value struct {
	kind Kind
	str  string
	b    bool
	arr  []Value
	obj  *Document
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Int(i int64) Value { return Value{kind: KindNumber, str: strconv.FormatInt(i, 10)} }

func Uint(u uint64) Value { return Value{kind: KindNumber, str: strconv.FormatUint(u, 10)} }

// Float returns a number value. NaN and infinities have no JSON form and
// become null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindNumber, str: strconv.FormatFloat(f, 'f', -1, 64)}
}

var numberLiteral = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// Number returns a number value from a JSON number literal.
func Number(lit string) (Value, bool) {
	lit = strings.TrimSpace(lit)
	if !numberLiteral.MatchString(lit) {
		return Null(), false
	}
	return Value{kind: KindNumber, str: lit}, true
}

func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: KindArray, arr: elems}
}

func Object(d *Document) Value {
	if d == nil {
		d = New()
	}
	return Value{kind: KindObject, obj: d}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// NumberLiteral returns the decimal literal of a number value.
func (v Value) NumberLiteral() (string, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return v.str, true
}

func (v Value) Int64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if i, err := strconv.ParseInt(v.str, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(v.str, 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func (v Value) Float64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.str, 64)
	return f, err == nil
}

func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Elems returns the elements of an array value, nil otherwise.
func (v Value) Elems() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Doc returns the nested document of an object value, nil otherwise.
func (v Value) Doc() *Document {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Text renders scalars the way they appear in a bulk action header:
// strings verbatim, numbers as their literal, booleans as true/false.
// Null renders empty; arrays and objects render as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString, KindNumber:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return string(v.appendJSON(nil))
	}
}

// Native converts the value to plain Go values: nil, string, int64 or
// float64, bool, []any and map[string]any.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if i, err := strconv.ParseInt(v.str, 10, 64); err == nil {
			return i
		}
		f, _ := strconv.ParseFloat(v.str, 64)
		return f
	case KindBool:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Native()
		}
		return out
	case KindObject:
		return v.obj.Map()
	default:
		return nil
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		elems := make([]Value, len(v.arr))
		for i, e := range v.arr {
			elems[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: elems}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

// Equal compares two values structurally. Object field order is
// significant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindNumber:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(o.obj)
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendJSON(nil), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) String() string {
	return string(v.appendJSON(nil))
}
