package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Pipeline struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Pipeline{})
	s.ID = "https://github.com/ormasoftchile/stockpipe/schemas/pipeline-v1.json"
	s.Title = "stockpipe pipeline v1"
	s.Description = "Schema for stockpipe pipeline YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// JSONSchema describes the prompt union: a literal string or a source mapping.
func (SourceConfig) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("source", &jsonschema.Schema{Type: "string", Enum: []any{"literal", "file"}})
	props.Set("path", &jsonschema.Schema{Type: "string"})
	props.Set("text", &jsonschema.Schema{Type: "string"})
	return &jsonschema.Schema{
		Description: "Prompt text, or {source: file, path: ...} read relative to workDir",
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{
				Type:                 "object",
				Properties:           props,
				Required:             []string{"source"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}

// JSONSchema describes the output union: a file path string or a storage mapping.
func (OutputConfig) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("storage", &jsonschema.Schema{Type: "string", Enum: []any{"file", "variable"}})
	props.Set("path", &jsonschema.Schema{Type: "string"})
	props.Set("name", &jsonschema.Schema{Type: "string"})
	return &jsonschema.Schema{
		Description: "File path, or {storage: file, path: ...} / {storage: variable, name: ...}",
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{
				Type:                 "object",
				Properties:           props,
				Required:             []string{"storage"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}

// JSONSchemaExtend restricts for-each-value elements to strings and numbers.
func (StepConfig) JSONSchemaExtend(s *jsonschema.Schema) {
	if s.Properties == nil {
		return
	}
	values, ok := s.Properties.Get("values")
	if !ok || values == nil {
		return
	}
	values.Items = &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{{Type: "string"}, {Type: "number"}},
	}
}
