package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModelNotFound is returned when a model is not in the registry.
var ErrModelNotFound = errors.New("model not registered")

// Key addresses a model in the registry. Namespace is optional and
// corresponds to the plugin qualifier in "plugin::model" names.
type Key struct {
	Namespace string
	Model     string
}

// ParseKey accepts "model" or "namespace::model".
func ParseKey(s string) Key {
	if ns, model, ok := strings.Cut(s, "::"); ok {
		return Key{Namespace: ns, Model: model}
	}
	return Key{Model: s}
}

func (k Key) String() string {
	if k.Namespace == "" {
		return k.Model
	}
	return k.Namespace + "::" + k.Model
}

// Registry is the immutable set of model descriptors, built once at
// startup and passed to every component that needs it.
type Registry struct {
	models []ModelDescriptor
	byKey  map[Key]int
	byName map[string][]int
}

// NewRegistry validates the descriptors and builds the registry. Order is
// preserved: it is the order full migrations run in.
func NewRegistry(descriptors []ModelDescriptor) (*Registry, error) {
	r := &Registry{
		models: make([]ModelDescriptor, 0, len(descriptors)),
		byKey:  make(map[Key]int, len(descriptors)),
		byName: make(map[string][]int, len(descriptors)),
	}
	for i, d := range descriptors {
		if err := validateDescriptor(d); err != nil {
			return nil, fmt.Errorf("models[%d]: %w", i, err)
		}
		key := d.Key()
		if _, dup := r.byKey[key]; dup {
			return nil, fmt.Errorf("models[%d]: duplicate model %q", i, key)
		}
		r.byKey[key] = len(r.models)
		r.byName[d.Model] = append(r.byName[d.Model], len(r.models))
		r.models = append(r.models, d)
	}
	return r, nil
}

func validateDescriptor(d ModelDescriptor) error {
	if d.Model == "" {
		return errors.New("model is required")
	}
	if d.Index == "" {
		return fmt.Errorf("model %q: index is required", d.Model)
	}
	seen := make(map[string]bool, len(d.Relations))
	for _, rel := range d.Relations {
		if rel.Name == "" {
			return fmt.Errorf("model %q: relation name is required", d.Model)
		}
		if seen[rel.Name] {
			return fmt.Errorf("model %q: duplicate relation %q", d.Model, rel.Name)
		}
		seen[rel.Name] = true
		if rel.Table == "" || rel.ForeignKey == "" {
			return fmt.Errorf("model %q: relation %q needs table and foreignKey", d.Model, rel.Name)
		}
		switch rel.Kind {
		case RelationHasMany, RelationHasOne, RelationBelongsTo:
		case RelationManyToMany:
			if rel.JoinTable == "" || rel.ReferenceKey == "" {
				return fmt.Errorf("model %q: relation %q needs joinTable and referenceKey", d.Model, rel.Name)
			}
		default:
			return fmt.Errorf("model %q: relation %q has unsupported type %q", d.Model, rel.Name, rel.Kind)
		}
	}
	for _, ft := range d.FieldTransforms {
		if ft.Field == "" {
			return fmt.Errorf("model %q: field transform without field", d.Model)
		}
		switch ft.Kind {
		case TransformPluck:
			if ft.Key == "" {
				return fmt.Errorf("model %q: pluck transform on %q needs key", d.Model, ft.Field)
			}
		case TransformDate, TransformString, TransformInt, TransformNumber, TransformBool, TransformRemove:
		default:
			return fmt.Errorf("model %q: field %q has unsupported transform %q", d.Model, ft.Field, ft.Kind)
		}
	}
	return nil
}

// Lookup returns the descriptor registered under key.
func (r *Registry) Lookup(key Key) (ModelDescriptor, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return ModelDescriptor{}, false
	}
	return r.models[i], true
}

// Resolve looks a model up by its textual key. A bare model name matches
// across namespaces when it is unambiguous.
func (r *Registry) Resolve(name string) (ModelDescriptor, error) {
	key := ParseKey(name)
	if d, ok := r.Lookup(key); ok {
		return d, nil
	}
	if key.Namespace == "" {
		switch idx := r.byName[key.Model]; len(idx) {
		case 0:
		case 1:
			return r.models[idx[0]], nil
		default:
			return ModelDescriptor{}, fmt.Errorf("model %q is ambiguous across namespaces", name)
		}
	}
	return ModelDescriptor{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
}

// All returns every descriptor in registry order.
func (r *Registry) All() []ModelDescriptor {
	out := make([]ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out
}

// Migratable returns the enabled and migratable descriptors in registry
// order.
func (r *Registry) Migratable() []ModelDescriptor {
	var out []ModelDescriptor
	for _, m := range r.models {
		if m.IsEnabled() && m.IsMigratable() {
			out = append(out, m)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.models) }
