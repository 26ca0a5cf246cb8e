package memory

import (
	"fmt"
	"time"
)

// FieldType is the declared type of a schema extension field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
	// FieldAny accepts any JSON-compatible value.
	FieldAny FieldType = "any"
)

// FieldDef declares one schema extension field. Extension fields live in
// the entry's metadata map under their name.
type FieldDef struct {
	Name     string
	Type     FieldType
	Required bool
	// Default is applied when the field is absent. Ignored for required
	// fields.
	Default any
}

// Schema validates inbound records for one collection: the base entry
// fields plus caller-declared extensions.
type Schema struct {
	// Extra declares extension fields beyond the base set.
	Extra []FieldDef

	// AllowUnknown permits metadata keys not declared in Extra. When
	// false, an undeclared key fails validation.
	AllowUnknown bool
}

// DefaultSchema accepts the base fields and an open metadata bag.
func DefaultSchema() Schema {
	return Schema{AllowUnknown: true}
}

// Normalize validates fields against the schema and produces a storable
// entry with defaults applied. The id, creation timestamp and (when
// absent) the vector are the caller's concern; everything else is
// settled here. Pure function of its inputs.
func (s Schema) Normalize(f Fields, dim int) (Entry, error) {
	if f.Content == "" && len(f.Vector) == 0 {
		return Entry{}, &SchemaError{Field: "content", Reason: "content and vector cannot both be empty"}
	}
	if len(f.Vector) > 0 && len(f.Vector) != dim {
		return Entry{}, &SchemaError{
			Field:  "vector",
			Reason: fmt.Sprintf("length %d does not match collection dimension %d", len(f.Vector), dim),
		}
	}

	e := Entry{
		Content: f.Content,
		Vector:  f.Vector,
		Type:    f.Type,
		Source:  f.Source,
		Tags:    f.Tags,
	}
	if e.Type == "" {
		e.Type = "memory"
	}

	e.Importance = 0.5
	if f.Importance != nil {
		e.Importance = clamp01(*f.Importance)
	}

	metadata, err := s.normalizeMetadata(f.Metadata)
	if err != nil {
		return Entry{}, err
	}
	e.Metadata = metadata
	return e, nil
}

func (s Schema) normalizeMetadata(in map[string]any) (map[string]any, error) {
	declared := make(map[string]FieldDef, len(s.Extra))
	for _, def := range s.Extra {
		declared[def.Name] = def
	}

	var out map[string]any
	if len(in) > 0 {
		out = make(map[string]any, len(in))
	}

	for key, value := range in {
		def, known := declared[key]
		if !known {
			if !s.AllowUnknown {
				return nil, &SchemaError{Field: "metadata." + key, Reason: "unknown field"}
			}
			if err := checkJSONValue("metadata."+key, value); err != nil {
				return nil, err
			}
			out[key] = value
			continue
		}
		if err := checkFieldType("metadata."+key, def.Type, value); err != nil {
			return nil, err
		}
		out[key] = value
	}

	for _, def := range s.Extra {
		if _, present := in[def.Name]; present {
			continue
		}
		if def.Required {
			return nil, &SchemaError{Field: "metadata." + def.Name, Reason: "required field is missing"}
		}
		if def.Default != nil {
			if out == nil {
				out = make(map[string]any)
			}
			out[def.Name] = def.Default
		}
	}
	return out, nil
}

func checkFieldType(path string, ft FieldType, value any) error {
	switch ft {
	case FieldString:
		if _, ok := value.(string); !ok {
			return typeErr(path, "string", value)
		}
	case FieldInt:
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			if v != float64(int64(v)) {
				return typeErr(path, "int", value)
			}
		default:
			return typeErr(path, "int", value)
		}
	case FieldFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
		default:
			return typeErr(path, "float", value)
		}
	case FieldBool:
		if _, ok := value.(bool); !ok {
			return typeErr(path, "bool", value)
		}
	case FieldAny:
		return checkJSONValue(path, value)
	default:
		return &SchemaError{Field: path, Reason: fmt.Sprintf("unsupported field type %q", ft)}
	}
	return nil
}

func typeErr(path, want string, got any) error {
	return &SchemaError{Field: path, Reason: fmt.Sprintf("expected %s, got %T", want, got)}
}

// checkJSONValue rejects metadata values that would not survive a JSON
// round trip.
func checkJSONValue(path string, value any) error {
	switch v := value.(type) {
	case nil, bool, string,
		int, int32, int64, float32, float64:
		return nil
	case time.Time:
		return nil
	case map[string]any:
		for key, nested := range v {
			if err := checkJSONValue(path+"."+key, nested); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, nested := range v {
			if err := checkJSONValue(fmt.Sprintf("%s[%d]", path, i), nested); err != nil {
				return err
			}
		}
		return nil
	case []string:
		return nil
	default:
		return &SchemaError{Field: path, Reason: fmt.Sprintf("unsupported value type %T", value)}
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
