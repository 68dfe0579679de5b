// Package schema derives the JSON Schema that tools/list advertises for each
// tool from the Go type of the tool's input.
//
//	type FormatInput struct {
//	    Seconds float64 `json:"seconds" jsonschema:"required,minimum=0,description=Duration in seconds"`
//	    Style   string  `json:"style" jsonschema:"enum=clock|words"`
//	}
//
//	s, err := schema.Generate(FormatInput{})
//
// Struct fields follow encoding/json naming; the jsonschema tag accepts
// required, description=, minimum=, maximum= and enum= (pipe separated).
package schema
