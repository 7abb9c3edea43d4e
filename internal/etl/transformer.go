package etl

import (
	"fmt"
	"time"

	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/logger"
	"github.com/BartekS5/essync/pkg/models"
	"github.com/BartekS5/essync/pkg/utils"
)

// FieldError is a transform that failed on one field. The field keeps the
// value it had before the transform ran.
type FieldError struct {
	Field string
	Kind  string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("transform %s on %s: %v", e.Kind, e.Field, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }

type Transformer struct {
	Transforms []models.FieldTransform
}

func NewTransformer(transforms []models.FieldTransform) *Transformer {
	return &Transformer{Transforms: transforms}
}

// Transform applies every configured transform to doc in place, in order.
// Each field is handled on its own: a failing or panicking transform
// leaves its field untouched and the next transform still runs.
func (t *Transformer) Transform(doc *document.Document) []FieldError {
	var failed []FieldError
	for _, ft := range t.Transforms {
		if err := applyIsolated(doc, ft); err != nil {
			fe := FieldError{Field: ft.Field, Kind: ft.Kind, Err: err}
			logger.Warnf("Skipping field transform: %v", fe)
			failed = append(failed, fe)
		}
	}
	return failed
}

// TransformAll transforms a page and returns the failures of all documents.
func (t *Transformer) TransformAll(docs []*document.Document) []FieldError {
	var failed []FieldError
	for _, d := range docs {
		failed = append(failed, t.Transform(d)...)
	}
	return failed
}

func applyIsolated(doc *document.Document, ft models.FieldTransform) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	current, ok := doc.Lookup(ft.Field)
	if !ok {
		return nil
	}
	if ft.Kind == models.TransformRemove {
		doc.DeletePath(ft.Field)
		return nil
	}
	if current.IsNull() {
		return nil
	}
	next, err := transformValue(current, ft)
	if err != nil {
		return err
	}
	doc.SetPath(ft.Field, next)
	return nil
}

func transformValue(v document.Value, ft models.FieldTransform) (document.Value, error) {
	switch ft.Kind {
	case models.TransformPluck:
		return pluck(v, ft.Key)
	case models.TransformDate:
		return formatDate(v, ft.Format)
	case models.TransformString:
		if !v.Kind().IsScalar() {
			return v, fmt.Errorf("cannot convert %s to string", v.Kind())
		}
		return document.String(v.Text()), nil
	case models.TransformInt:
		i, err := utils.ConvertToInt(v.Native())
		if err != nil {
			return v, err
		}
		return document.Int(i), nil
	case models.TransformNumber:
		f, err := utils.ConvertToFloat(v.Native())
		if err != nil {
			return v, err
		}
		return document.Float(f), nil
	case models.TransformBool:
		b, err := utils.ConvertToBool(v.Native())
		if err != nil {
			return v, err
		}
		return document.Bool(b), nil
	default:
		return v, fmt.Errorf("unknown transform type %q", ft.Kind)
	}
}

// pluck collapses an embedded relation to one of its keys: an object
// becomes the key's value, an array of objects the array of key values.
func pluck(v document.Value, key string) (document.Value, error) {
	if key == "" {
		key = "id"
	}
	switch v.Kind() {
	case document.KindObject:
		out, ok := v.Doc().Lookup(key)
		if !ok {
			return v, fmt.Errorf("object has no field %q", key)
		}
		return out, nil
	case document.KindArray:
		elems := make([]document.Value, 0, len(v.Elems()))
		for _, e := range v.Elems() {
			if e.Kind() != document.KindObject {
				return v, fmt.Errorf("array element is %s, not object", e.Kind())
			}
			if out, ok := e.Doc().Lookup(key); ok {
				elems = append(elems, out)
			}
		}
		return document.Array(elems...), nil
	default:
		return v, fmt.Errorf("cannot pluck %q from %s", key, v.Kind())
	}
}

func formatDate(v document.Value, layout string) (document.Value, error) {
	if layout == "" {
		layout = time.RFC3339
	}
	t, err := utils.ConvertDateTime(v.Native())
	if err != nil {
		return v, err
	}
	return document.String(t.Format(layout)), nil
}
