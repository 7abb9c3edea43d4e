package etl

import (
	"strings"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
)

// Reconcile adapts documents to an existing index mapping. It returns new
// documents, one per input and in input order; the inputs are not touched.
//
// Fields the mapping does not declare are dropped. Null is kept for every
// declared field. Declared fields follow a fixed policy per type family:
//
//	object   object: recurse into its properties
//	         array: keep object elements (recursed), nulls; drop the rest
//	         scalar: drop the field
//	string   string kept, number as its literal, bool as "true"/"false"
//	number   number kept, numeric string parsed, anything else dropped
//	boolean  bool kept, "true"/"false" strings parsed, anything else dropped
//	date     string or number (epoch millis) kept, bool dropped
//	other    kept unchanged (geo_point, ip, range types ...)
//
// Objects in a scalar field are dropped. Arrays in a scalar field are
// filtered element by element with the same rule. Every coercion produces
// a value the same rule keeps as is, so Reconcile is idempotent.
func Reconcile(docs []*document.Document, props search.Properties) []*document.Document {
	out, _ := ReconcileCount(docs, props)
	return out
}

// ReconcileCount is Reconcile that also reports how many values it
// dropped, for run reports. A dropped scalar or null counts once; a
// dropped object or array counts the values inside it, and at least once.
// Array elements filtered out of a field count the same way.
func ReconcileCount(docs []*document.Document, props search.Properties) ([]*document.Document, int) {
	r := &reconciler{}
	out := make([]*document.Document, len(docs))
	for i, d := range docs {
		out[i] = r.document(d, props)
	}
	return out, r.dropped
}

type reconciler struct {
	dropped int
}

func (r *reconciler) drop(v document.Value) {
	r.dropped += max(leaves(v), 1)
}

func leaves(v document.Value) int {
	switch v.Kind() {
	case document.KindObject:
		n := 0
		v.Doc().Range(func(_ string, fv document.Value) bool {
			n += max(leaves(fv), 1)
			return true
		})
		return n
	case document.KindArray:
		n := 0
		for _, e := range v.Elems() {
			n += max(leaves(e), 1)
		}
		return n
	default:
		return 1
	}
}

func (r *reconciler) document(d *document.Document, props search.Properties) *document.Document {
	out := document.New()
	d.Range(func(key string, v document.Value) bool {
		field, ok := props[key]
		if !ok {
			r.drop(v)
			return true
		}
		if nv, keep := r.value(v, field); keep {
			out.Set(key, nv)
		} else {
			r.drop(v)
		}
		return true
	})
	return out
}

func (r *reconciler) value(v document.Value, field search.FieldMapping) (document.Value, bool) {
	if v.IsNull() {
		return v, true
	}
	family := field.Family()
	if family == search.FamilyObject {
		return r.object(v, field.Properties)
	}
	if family == search.FamilyOther {
		return v.Clone(), true
	}
	switch v.Kind() {
	case document.KindObject:
		return document.Null(), false
	case document.KindArray:
		elems := make([]document.Value, 0, len(v.Elems()))
		for _, e := range v.Elems() {
			if ne, keep := r.value(e, field); keep {
				elems = append(elems, ne)
			} else {
				r.drop(e)
			}
		}
		return document.Array(elems...), true
	}
	return coerceScalar(v, family)
}

func (r *reconciler) object(v document.Value, props search.Properties) (document.Value, bool) {
	switch v.Kind() {
	case document.KindObject:
		return document.Object(r.document(v.Doc(), props)), true
	case document.KindArray:
		elems := make([]document.Value, 0, len(v.Elems()))
		for _, e := range v.Elems() {
			switch e.Kind() {
			case document.KindObject:
				elems = append(elems, document.Object(r.document(e.Doc(), props)))
			case document.KindNull:
				elems = append(elems, e)
			default:
				r.drop(e)
			}
		}
		return document.Array(elems...), true
	default:
		return document.Null(), false
	}
}

func coerceScalar(v document.Value, family search.Family) (document.Value, bool) {
	switch family {
	case search.FamilyString:
		switch v.Kind() {
		case document.KindString:
			return v, true
		case document.KindNumber, document.KindBool:
			return document.String(v.Text()), true
		}
	case search.FamilyNumber:
		switch v.Kind() {
		case document.KindNumber:
			return v, true
		case document.KindString:
			s, _ := v.Str()
			if n, ok := document.Number(s); ok {
				return n, true
			}
		}
	case search.FamilyBoolean:
		switch v.Kind() {
		case document.KindBool:
			return v, true
		case document.KindString:
			switch s, _ := v.Str(); s {
			case "true":
				return document.Bool(true), true
			case "false":
				return document.Bool(false), true
			}
		}
	case search.FamilyDate:
		switch v.Kind() {
		case document.KindString, document.KindNumber:
			return v, true
		}
	}
	return document.Null(), false
}

// exemptFields returns a copy of props in which every declared path is
// redeclared with no type, so Reconcile keeps those values as they are.
// Fields that a transform rewrites get their final shape from the
// transform. Paths the mapping does not declare stay undeclared and are
// dropped like any other unknown field.
func exemptFields(props search.Properties, paths []string) search.Properties {
	if props == nil || len(paths) == 0 {
		return props
	}
	out := copyProperties(props)
	for _, p := range paths {
		exemptPath(out, strings.Split(p, "."))
	}
	return out
}

func copyProperties(props search.Properties) search.Properties {
	out := make(search.Properties, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func exemptPath(props search.Properties, path []string) {
	field, ok := props[path[0]]
	if !ok {
		return
	}
	if len(path) == 1 {
		props[path[0]] = search.FieldMapping{}
		return
	}
	if field.Family() != search.FamilyObject {
		return
	}
	field.Properties = copyProperties(field.Properties)
	exemptPath(field.Properties, path[1:])
	props[path[0]] = field
}
