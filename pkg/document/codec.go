package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/buger/jsonparser"
	gojson "github.com/goccy/go-json"
)

// ErrNotObject is returned by Parse when the input is valid JSON but not an
// object.
var ErrNotObject = errors.New("document: JSON value is not an object")

func (v Value) appendJSON(dst []byte) []byte {
	switch v.kind {
	case KindString:
		return appendString(dst, v.str)
	case KindNumber:
		return append(dst, v.str...)
	case KindBool:
		if v.b {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case KindArray:
		dst = append(dst, '[')
		for i, e := range v.arr {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = e.appendJSON(dst)
		}
		return append(dst, ']')
	case KindObject:
		return v.obj.appendJSON(dst)
	default:
		return append(dst, "null"...)
	}
}

func (d *Document) appendJSON(dst []byte) []byte {
	if d == nil {
		return append(dst, "null"...)
	}
	dst = append(dst, '{')
	for i, k := range d.keys {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendString(dst, k)
		dst = append(dst, ':')
		dst = d.fields[k].appendJSON(dst)
	}
	return append(dst, '}')
}

func appendString(dst []byte, s string) []byte {
	b, _ := gojson.Marshal(s)
	return append(dst, b...)
}

// MarshalJSON encodes the document with its fields in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.appendJSON(nil), nil
}

// UnmarshalJSON decodes an object keeping the source field order.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// Parse decodes a JSON object into a Document, keeping field order.
func Parse(data []byte) (*Document, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() != KindObject {
		return nil, ErrNotObject
	}
	return v.Doc(), nil
}

// ParseValue decodes any JSON value.
func ParseValue(data []byte) (Value, error) {
	raw, dataType, _, err := jsonparser.Get(data)
	if err != nil {
		return Null(), fmt.Errorf("document: parse: %w", err)
	}
	return decodeValue(raw, dataType)
}

func decodeValue(raw []byte, dataType jsonparser.ValueType) (Value, error) {
	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Null(), fmt.Errorf("document: parse string: %w", err)
		}
		return String(s), nil
	case jsonparser.Number:
		v, ok := Number(string(raw))
		if !ok {
			return Null(), fmt.Errorf("document: invalid number %q", raw)
		}
		return v, nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Null(), fmt.Errorf("document: parse boolean: %w", err)
		}
		return Bool(b), nil
	case jsonparser.Null:
		return Null(), nil
	case jsonparser.Array:
		elems := []Value{}
		var inner error
		_, err := jsonparser.ArrayEach(raw, func(value []byte, dt jsonparser.ValueType, _ int, err error) {
			if inner != nil {
				return
			}
			if err != nil {
				inner = err
				return
			}
			ev, err := decodeValue(value, dt)
			if err != nil {
				inner = err
				return
			}
			elems = append(elems, ev)
		})
		if err == nil {
			err = inner
		}
		if err != nil {
			return Null(), fmt.Errorf("document: parse array: %w", err)
		}
		return Array(elems...), nil
	case jsonparser.Object:
		doc := New()
		err := jsonparser.ObjectEach(raw, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
			fv, err := decodeValue(value, dt)
			if err != nil {
				return err
			}
			doc.Set(string(key), fv)
			return nil
		})
		if err != nil {
			return Null(), fmt.Errorf("document: parse object: %w", err)
		}
		return Object(doc), nil
	default:
		return Null(), fmt.Errorf("document: unsupported JSON value type %v", dataType)
	}
}

// FromNative converts values produced by SQL drivers and JSON decoders into
// a Value. Byte slices become strings, times become RFC 3339 strings, map
// keys are sorted since Go maps carry no order.
func FromNative(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case *Document:
		if x == nil {
			return Null()
		}
		return Object(x)
	case string:
		return String(x)
	case []byte:
		if x == nil {
			return Null()
		}
		return String(string(x))
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return Uint(uint64(x))
	case uint8:
		return Uint(uint64(x))
	case uint16:
		return Uint(uint64(x))
	case uint32:
		return Uint(uint64(x))
	case uint64:
		return Uint(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case json.Number:
		if n, ok := Number(string(x)); ok {
			return n
		}
		return String(string(x))
	case time.Time:
		return String(x.Format(time.RFC3339Nano))
	case *time.Time:
		if x == nil {
			return Null()
		}
		return String(x.Format(time.RFC3339Nano))
	case map[string]any:
		return Object(fromMap(x))
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = FromNative(e)
		}
		return Array(elems...)
	case []map[string]any:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = Object(fromMap(e))
		}
		return Array(elems...)
	case fmt.Stringer:
		return String(x.String())
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromMap(m map[string]any) *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	doc := New()
	for _, k := range keys {
		doc.Set(k, FromNative(m[k]))
	}
	return doc
}

func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return FromNative(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		elems := make([]Value, rv.Len())
		for i := range elems {
			elems[i] = FromNative(rv.Index(i).Interface())
		}
		return Array(elems...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return Object(fromMap(m))
	case reflect.String:
		return String(rv.String())
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Uint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	}
	return String(fmt.Sprint(rv.Interface()))
}

// FromMap builds a document from a plain map with keys sorted.
func FromMap(m map[string]any) *Document {
	return fromMap(m)
}
