package document

import (
	"strings"
)

// Document is an ordered mapping of field name to Value. It represents one
// relational row plus its eager-loaded relation data on the way to the
// search engine. The zero Document is not usable; call New.
type Document struct {
	keys   []string
	fields map[string]Value
}

func New() *Document {
	return &Document{fields: make(map[string]Value)}
}

// Set stores v under key. New keys are appended; existing keys keep their
// position.
func (d *Document) Set(key string, v Value) {
	if d.fields == nil {
		d.fields = make(map[string]Value)
	}
	if _, ok := d.fields[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.fields[key] = v
}

func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Null(), false
	}
	v, ok := d.fields[key]
	return v, ok
}

func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (d *Document) Delete(key string) bool {
	if d == nil {
		return false
	}
	if _, ok := d.fields[key]; !ok {
		return false
	}
	delete(d.fields, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the field names in order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Range calls fn for each field in order until fn returns false.
func (d *Document) Range(fn func(key string, v Value) bool) {
	if d == nil {
		return
	}
	for _, k := range d.keys {
		if !fn(k, d.fields[k]) {
			return
		}
	}
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		keys:   make([]string, len(d.keys)),
		fields: make(map[string]Value, len(d.fields)),
	}
	copy(out.keys, d.keys)
	for k, v := range d.fields {
		out.fields[k] = v.Clone()
	}
	return out
}

// Equal reports whether both documents hold the same fields in the same
// order with equal values.
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	if d.Len() == 0 {
		return true
	}
	for i, k := range d.keys {
		if o.keys[i] != k {
			return false
		}
		if !d.fields[k].Equal(o.fields[k]) {
			return false
		}
	}
	return true
}

// Lookup resolves a dotted path through nested objects.
func (d *Document) Lookup(path string) (Value, bool) {
	parent, last, ok := d.walk(path)
	if !ok {
		return Null(), false
	}
	return parent.Get(last)
}

// SetPath replaces the value at a dotted path. Every intermediate segment
// must already be an object; the final field must exist.
func (d *Document) SetPath(path string, v Value) bool {
	parent, last, ok := d.walk(path)
	if !ok || !parent.Has(last) {
		return false
	}
	parent.Set(last, v)
	return true
}

// DeletePath removes the field at a dotted path.
func (d *Document) DeletePath(path string) bool {
	parent, last, ok := d.walk(path)
	if !ok {
		return false
	}
	return parent.Delete(last)
}

func (d *Document) walk(path string) (*Document, string, bool) {
	if d == nil || path == "" {
		return nil, "", false
	}
	segments := strings.Split(path, ".")
	cur := d
	for _, seg := range segments[:len(segments)-1] {
		v, ok := cur.Get(seg)
		if !ok || v.Kind() != KindObject {
			return nil, "", false
		}
		cur = v.Doc()
	}
	return cur, segments[len(segments)-1], true
}

// Map converts the document to a plain map. Field order is lost.
func (d *Document) Map() map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d.keys))
	for _, k := range d.keys {
		out[k] = d.fields[k].Native()
	}
	return out
}

func (d *Document) String() string {
	return string(d.appendJSON(nil))
}
