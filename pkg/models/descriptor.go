package models

// ModelDescriptor describes how one relational model is projected into a
// search index. It is read from the model registry file and never mutated
// after the registry is built.
type ModelDescriptor struct {
	Model      string `json:"model" toml:"model" yaml:"model"`
	Namespace  string `json:"plugin,omitempty" toml:"plugin" yaml:"plugin"`
	Index      string `json:"index" toml:"index" yaml:"index"`
	Table      string `json:"table,omitempty" toml:"table" yaml:"table"`
	PrimaryKey string `json:"pk,omitempty" toml:"pk" yaml:"pk"`
	Enabled    *bool  `json:"enabled,omitempty" toml:"enabled" yaml:"enabled"`
	Migratable *bool  `json:"migration,omitempty" toml:"migration" yaml:"migration"`

	Relations       []RelationConfig `json:"relations,omitempty" toml:"relations" yaml:"relations"`
	Conditions      map[string]any   `json:"conditions,omitempty" toml:"conditions" yaml:"conditions"`
	IndexMappings   map[string]any   `json:"indexMappings,omitempty" toml:"index_mappings" yaml:"indexMappings"`
	IndexSettings   map[string]any   `json:"indexSettings,omitempty" toml:"index_settings" yaml:"indexSettings"`
	FieldTransforms []FieldTransform `json:"fieldsToTransform,omitempty" toml:"fields_to_transform" yaml:"fieldsToTransform"`
}

// Relation kinds understood by the extractor.
const (
	RelationHasMany    = "has-many"
	RelationHasOne     = "has-one"
	RelationBelongsTo  = "belongs-to"
	RelationManyToMany = "many-to-many"
)

// RelationConfig describes one relation eager-loaded with every page.
//
//   - has-many / has-one: rows of Table whose ForeignKey equals the parent's
//     LocalKey (default: the parent primary key).
//   - belongs-to: the row of Table whose ReferenceKey (default id) equals the
//     parent's ForeignKey column.
//   - many-to-many: rows of Table joined through JoinTable, where
//     JoinTable.ForeignKey points at the parent's LocalKey and
//     JoinTable.ReferenceKey points at Table's TargetKey (default id).
type RelationConfig struct {
	Name         string   `json:"name" toml:"name" yaml:"name"`
	Kind         string   `json:"type" toml:"type" yaml:"type"`
	Table        string   `json:"table" toml:"table" yaml:"table"`
	ForeignKey   string   `json:"foreignKey" toml:"foreign_key" yaml:"foreignKey"`
	LocalKey     string   `json:"localKey,omitempty" toml:"local_key" yaml:"localKey"`
	ReferenceKey string   `json:"referenceKey,omitempty" toml:"reference_key" yaml:"referenceKey"`
	JoinTable    string   `json:"joinTable,omitempty" toml:"join_table" yaml:"joinTable"`
	TargetKey    string   `json:"targetKey,omitempty" toml:"target_key" yaml:"targetKey"`
	Fields       []string `json:"fields,omitempty" toml:"fields" yaml:"fields"`
}

// Field transform kinds.
const (
	TransformPluck  = "pluck"
	TransformDate   = "date"
	TransformString = "string"
	TransformInt    = "int"
	TransformNumber = "number"
	TransformBool   = "bool"
	TransformRemove = "remove"
)

// FieldTransform rewrites one document field before it is indexed.
// Field is a dotted path into nested objects.
type FieldTransform struct {
	Field  string `json:"field" toml:"field" yaml:"field"`
	Kind   string `json:"type" toml:"type" yaml:"type"`
	Key    string `json:"key,omitempty" toml:"key" yaml:"key"`
	Format string `json:"format,omitempty" toml:"format" yaml:"format"`
}

// Key returns the registry key of the descriptor.
func (m ModelDescriptor) Key() Key {
	return Key{Namespace: m.Namespace, Model: m.Model}
}

// PK returns the configured primary key field, id when unset.
func (m ModelDescriptor) PK() string {
	if m.PrimaryKey == "" {
		return "id"
	}
	return m.PrimaryKey
}

// TableName returns the relational table, the model name when unset.
func (m ModelDescriptor) TableName() string {
	if m.Table == "" {
		return m.Model
	}
	return m.Table
}

// IsEnabled defaults to true.
func (m ModelDescriptor) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// IsMigratable defaults to true.
func (m ModelDescriptor) IsMigratable() bool {
	return m.Migratable == nil || *m.Migratable
}

// RelationNames lists the configured relations in order.
func (m ModelDescriptor) RelationNames() []string {
	names := make([]string, len(m.Relations))
	for i, r := range m.Relations {
		names[i] = r.Name
	}
	return names
}

// SelectRelations resolves relation names against the descriptor, keeping
// the order of names. A nil slice selects every configured relation.
func (m ModelDescriptor) SelectRelations(names []string) ([]RelationConfig, error) {
	if names == nil {
		out := make([]RelationConfig, len(m.Relations))
		copy(out, m.Relations)
		return out, nil
	}
	out := make([]RelationConfig, 0, len(names))
	for _, name := range names {
		found := false
		for _, r := range m.Relations {
			if r.Name == name {
				out = append(out, r)
				found = true
				break
			}
		}
		if !found {
			return nil, &UnknownRelationError{Model: m.Model, Relation: name}
		}
	}
	return out, nil
}

// UnknownRelationError reports a relation name the model does not declare.
type UnknownRelationError struct {
	Model    string
	Relation string
}

func (e *UnknownRelationError) Error() string {
	return "model " + e.Model + " has no relation " + e.Relation
}
