// Package schema derives JSON Schema documents for tool inputs from Go types.
package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Schema is the subset of JSON Schema advertised in tools/list.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Description string             `json:"description,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// Generate creates a JSON Schema from a Go value.
func Generate(v any) (*Schema, error) {
	return GenerateFromType(reflect.TypeOf(v))
}

// GenerateFromType creates a JSON Schema from a reflect.Type.
func GenerateFromType(t reflect.Type) (*Schema, error) {
	if t == nil {
		return nil, fmt.Errorf("schema: nil type")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		return structSchema(t)
	case reflect.String:
		return &Schema{Type: "string"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}, nil
	case reflect.Bool:
		return &Schema{Type: "boolean"}, nil
	case reflect.Slice, reflect.Array:
		items, err := GenerateFromType(t.Elem())
		if err != nil {
			return nil, err
		}
		return &Schema{Type: "array", Items: items}, nil
	case reflect.Map:
		return &Schema{Type: "object"}, nil
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, fmt.Errorf("schema: unsupported kind %s", t.Kind())
	default:
		return &Schema{}, nil
	}
}

func structSchema(t reflect.Type) (*Schema, error) {
	s := &Schema{
		Type:       "object",
		Properties: make(map[string]*Schema),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, skip := jsonName(field)
		if skip {
			continue
		}

		prop, err := GenerateFromType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("schema: field %s: %w", field.Name, err)
		}
		if applyTag(field.Tag.Get("jsonschema"), prop) {
			s.Required = append(s.Required, name)
		}
		s.Properties[name] = prop
	}

	return s, nil
}

func jsonName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, false
	}
	return field.Name, false
}

// applyTag copies jsonschema tag options onto s and reports whether the
// field is required. Supported options: required, description=, minimum=,
// maximum=, enum=a|b|c.
func applyTag(tag string, s *Schema) bool {
	required := false
	for _, part := range strings.Split(tag, ",") {
		key, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch key {
		case "required":
			required = true
		case "description":
			s.Description = value
		case "minimum":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				s.Minimum = &f
			}
		case "maximum":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				s.Maximum = &f
			}
		case "enum":
			for _, v := range strings.Split(value, "|") {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return required
}
