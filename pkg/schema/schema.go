// Package schema defines the Go struct types for the pipeline YAML document
// and provides strict YAML parsing.
package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// APIVersion is the only document version this build understands.
const APIVersion = "stockpipe/v1"

// Pipeline is the top-level document: a named tree of steps.
type Pipeline struct {
	APIVersion  string       `yaml:"apiVersion"            json:"apiVersion"            jsonschema:"required,enum=stockpipe/v1"`
	Name        string       `yaml:"name,omitempty"        json:"name,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	WorkDir     string       `yaml:"workDir,omitempty"     json:"workDir,omitempty"     jsonschema:"description=Working directory baseline; templated against the seed environment"`
	Steps       []StepConfig `yaml:"steps"                 json:"steps"                 jsonschema:"required,minItems=1"`
}

// StepConfig is the raw, untyped form of a step. The Step field selects the
// kind; every other field is only meaningful for some kinds, which the
// domain phase enforces.
type StepConfig struct {
	Step string `yaml:"step"           json:"step"           jsonschema:"required,enum=for-each-file,enum=for-each-value,enum=crop,enum=chat"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	When string `yaml:"when,omitempty" json:"when,omitempty" jsonschema:"description=expr-lang boolean guard; the step is skipped when false"`

	// for-each-file
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
	// for-each-value
	Values []any `yaml:"values,omitempty" json:"values,omitempty"`
	// containers
	Steps []StepConfig `yaml:"steps,omitempty" json:"steps,omitempty"`

	// crop
	AspectRatio string `yaml:"aspectRatio,omitempty" json:"aspectRatio,omitempty"`
	Input       string `yaml:"input,omitempty"       json:"input,omitempty"`

	// chat
	Prompt    *SourceConfig `yaml:"prompt,omitempty"    json:"prompt,omitempty"`
	MaxTokens int           `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty" jsonschema:"minimum=1"`

	// crop, chat
	Output *OutputConfig `yaml:"output,omitempty" json:"output,omitempty"`
}

// SourceConfig is a prompt: a literal scalar, or {source: file, path: ...}.
type SourceConfig struct {
	Source string // "literal" or "file"
	Text   string
	Path   string
}

// UnmarshalYAML accepts the scalar shorthand and the mapping form.
func (s *SourceConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Source = "literal"
		s.Text = node.Value
		return nil
	}
	fields, err := mappingFields(node, "source", "path", "text")
	if err != nil {
		return err
	}
	s.Source = fields["source"]
	s.Path = fields["path"]
	s.Text = fields["text"]
	return nil
}

// MarshalJSON emits the normalized mapping form.
func (s SourceConfig) MarshalJSON() ([]byte, error) {
	out := map[string]string{"source": s.Source}
	if s.Path != "" {
		out["path"] = s.Path
	}
	if s.Source == "literal" {
		out["text"] = s.Text
	}
	return json.Marshal(out)
}

// OutputConfig is a storage target: {storage: file, path: ...},
// {storage: variable, name: ...}, or a scalar file path.
type OutputConfig struct {
	Storage string // "file" or "variable"
	Path    string
	Name    string
}

// UnmarshalYAML accepts the scalar shorthand and the mapping form.
func (o *OutputConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		o.Storage = "file"
		o.Path = node.Value
		return nil
	}
	fields, err := mappingFields(node, "storage", "path", "name")
	if err != nil {
		return err
	}
	o.Storage = fields["storage"]
	o.Path = fields["path"]
	o.Name = fields["name"]
	return nil
}

// MarshalJSON emits the normalized mapping form.
func (o OutputConfig) MarshalJSON() ([]byte, error) {
	out := map[string]string{"storage": o.Storage}
	if o.Path != "" {
		out["path"] = o.Path
	}
	if o.Name != "" {
		out["name"] = o.Name
	}
	return json.Marshal(out)
}

// mappingFields decodes a flat mapping of scalars, rejecting keys outside
// allowed. node.Decode does not inherit the decoder's KnownFields setting,
// so the check is done here.
func mappingFields(node *yaml.Node, allowed ...string) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a string or a mapping", node.Line)
	}
	ok := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		ok[k] = true
	}
	out := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if !ok[key.Value] {
			return nil, fmt.Errorf("line %d: field %s not found, expected one of %v", key.Line, key.Value, sortedCopy(allowed))
		}
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: field %s must be a string", val.Line, key.Value)
		}
		out[key.Value] = val.Value
	}
	return out, nil
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

// LoadFile reads and structurally decodes a pipeline YAML file.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pipeline: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a pipeline document from a reader.
func Load(r io.Reader) (*Pipeline, error) {
	var p Pipeline
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &p, nil
}

// WalkSteps visits every step config depth-first with its document path.
func WalkSteps(steps []StepConfig, prefix string, fn func(s *StepConfig, path string)) {
	for i := range steps {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		fn(&steps[i], path)
		if len(steps[i].Steps) > 0 {
			WalkSteps(steps[i].Steps, path+".steps", fn)
		}
	}
}
