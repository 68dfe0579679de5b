package schema

import (
	"encoding/json"
	"reflect"
	"testing"
)

type durationInput struct {
	Seconds float64 `json:"seconds" jsonschema:"required,minimum=0,description=Duration in seconds"`
	Style   string  `json:"style,omitempty" jsonschema:"enum=clock|words"`
	Tags    []string
	Ignored string `json:"-"`
	hidden  string
}

func TestGenerate(t *testing.T) {
	t.Run("builds object schema from struct tags", func(t *testing.T) {
		s, err := Generate(durationInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Type != "object" {
			t.Errorf("Type = %q, want object", s.Type)
		}
		if !reflect.DeepEqual(s.Required, []string{"seconds"}) {
			t.Errorf("Required = %v", s.Required)
		}

		seconds := s.Properties["seconds"]
		if seconds == nil || seconds.Type != "number" {
			t.Fatalf("seconds = %+v", seconds)
		}
		if seconds.Minimum == nil || *seconds.Minimum != 0 {
			t.Errorf("Minimum = %v", seconds.Minimum)
		}
		if seconds.Description != "Duration in seconds" {
			t.Errorf("Description = %q", seconds.Description)
		}

		style := s.Properties["style"]
		if style == nil || len(style.Enum) != 2 {
			t.Fatalf("style = %+v", style)
		}

		tags := s.Properties["Tags"]
		if tags == nil || tags.Type != "array" || tags.Items.Type != "string" {
			t.Errorf("Tags = %+v", tags)
		}

		if _, ok := s.Properties["Ignored"]; ok {
			t.Error("json:\"-\" field should be skipped")
		}
		if _, ok := s.Properties["hidden"]; ok {
			t.Error("unexported field should be skipped")
		}
	})

	t.Run("follows pointers", func(t *testing.T) {
		s, err := Generate(&durationInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Type != "object" {
			t.Errorf("Type = %q, want object", s.Type)
		}
	})

	t.Run("rejects unsupported kinds", func(t *testing.T) {
		if _, err := Generate(struct{ F func() }{}); err == nil {
			t.Error("expected error for func field")
		}
	})

	t.Run("empty struct marshals as bare object", func(t *testing.T) {
		s, err := Generate(struct{}{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, _ := json.Marshal(s)
		if string(data) != `{"type":"object"}` {
			t.Errorf("got %s", data)
		}
	})
}
