package search

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Family groups engine field types by the value shape they accept.
type Family int

const (
	FamilyOther Family = iota
	FamilyString
	FamilyNumber
	FamilyBoolean
	FamilyDate
	FamilyObject
)

func (f Family) String() string {
	switch f {
	case FamilyString:
		return "string"
	case FamilyNumber:
		return "number"
	case FamilyBoolean:
		return "boolean"
	case FamilyDate:
		return "date"
	case FamilyObject:
		return "object"
	default:
		return "other"
	}
}

// FieldMapping is one entry of an index mapping. Parameters other than
// type and properties (format, fields, analyzer ...) are kept in Params so
// a mapping survives a decode/encode round trip.
type FieldMapping struct {
	Type       string
	Properties Properties
	Params     map[string]any
}

func (f *FieldMapping) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FieldMapping{}
	for k, v := range raw {
		switch k {
		case "type":
			if err := json.Unmarshal(v, &f.Type); err != nil {
				return fmt.Errorf("field type: %w", err)
			}
		case "properties":
			if err := json.Unmarshal(v, &f.Properties); err != nil {
				return err
			}
		default:
			var p any
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if f.Params == nil {
				f.Params = make(map[string]any)
			}
			f.Params[k] = p
		}
	}
	return nil
}

func (f FieldMapping) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Params)+2)
	for k, v := range f.Params {
		out[k] = v
	}
	if f.Type != "" {
		out["type"] = f.Type
	}
	if f.Properties != nil {
		out["properties"] = f.Properties
	}
	return json.Marshal(out)
}

// Properties maps field names to their mapping.
type Properties map[string]FieldMapping

// Family classifies the field. A mapping entry without a type but with
// properties is an object.
func (f FieldMapping) Family() Family {
	switch f.Type {
	case "keyword", "text", "constant_keyword", "wildcard", "match_only_text", "search_as_you_type":
		return FamilyString
	case "long", "integer", "short", "byte", "double", "float", "half_float", "scaled_float", "unsigned_long":
		return FamilyNumber
	case "boolean":
		return FamilyBoolean
	case "date", "date_nanos":
		return FamilyDate
	case "object", "nested":
		return FamilyObject
	case "":
		if f.Properties != nil {
			return FamilyObject
		}
	}
	return FamilyOther
}

// IndexMapping is the mapping snapshot of one index.
type IndexMapping struct {
	Index      string
	Properties Properties
}

// HasProperties reports whether the mapping declares any field.
func (m *IndexMapping) HasProperties() bool {
	return m != nil && len(m.Properties) > 0
}

// ParseMapping decodes a get-mapping response:
// {"<index>": {"mappings": {"properties": {...}}}}. When the name is an
// alias the single concrete index in the response is used.
func ParseMapping(index string, data []byte) (*IndexMapping, error) {
	var raw map[string]struct {
		Mappings struct {
			Properties Properties `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode mapping of %s: %w", index, err)
	}
	if entry, ok := raw[index]; ok {
		return &IndexMapping{Index: index, Properties: entry.Mappings.Properties}, nil
	}
	if len(raw) == 1 {
		for name, entry := range raw {
			return &IndexMapping{Index: name, Properties: entry.Mappings.Properties}, nil
		}
	}
	return nil, fmt.Errorf("mapping response has no entry for %s", index)
}
