package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/stockpipe/pkg/eval"
	"github.com/ormasoftchile/stockpipe/pkg/imaging"
	"github.com/ormasoftchile/stockpipe/pkg/step"
)

// Validation phases.
const (
	PhaseStructural = "structural"
	PhaseSemantic   = "semantic"
	PhaseDomain     = "domain"
	PhaseRuntime    = "runtime"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a single validation finding with location context.
// Runtime findings (an aspect ratio that only fails once templated) carry
// the underlying cause in Err.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain, runtime
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].steps[1].output")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
	Err      error  `json:"-"`
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityError,
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityWarning,
	}
}

// SeedNames are the variables every run starts with.
var SeedNames = []string{"cwd", "workDir", "input", "env"}

// ValidateFile performs the full 3-phase validation pipeline on a pipeline file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
// extraVars names variables supplied on top of the seed (--var).
func ValidateFile(path string, extraVars ...string) (*Pipeline, []*ValidationError) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "%s", err)}
	}
	return p, Validate(p, extraVars...)
}

// Validate runs the semantic and domain phases on an already-loaded pipeline.
// Domain rules are skipped when the document does not match the schema.
func Validate(p *Pipeline, extraVars ...string) []*ValidationError {
	errs := validateSemantic(p)
	if HasErrors(errs) {
		return errs
	}
	return append(errs, ValidateDomain(p, extraVars...)...)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// validateSemantic validates the pipeline against the generated JSON Schema.
func validateSemantic(p *Pipeline) []*ValidationError {
	data, err := json.Marshal(p)
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "marshal for schema validation: %v", err)}
	}
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "generate schema: %v", err)}
	}

	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "unmarshal schema: %v", err)}
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource("pipeline-v1.json", schemaDoc); err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "add schema resource: %v", err)}
	}
	sch, err := c.Compile("pipeline-v1.json")
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "compile schema: %v", err)}
	}

	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "unmarshal document: %v", err)}
	}
	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []*ValidationError{errorf(PhaseSemantic, "", "%s", err)}
		}
		var errs []*ValidationError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, errorf(PhaseSemantic, instancePath(cause.InstanceLocation), "%v", cause.ErrorKind))
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// instancePath renders ["steps","0","dir"] as steps[0].dir.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if seg != "" && strings.Trim(seg, "0123456789") == "" {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// fieldsByKind lists the kind-specific fields each step kind accepts.
var fieldsByKind = map[step.Kind][]string{
	step.KindForEachFile:  {"dir", "steps"},
	step.KindForEachValue: {"values", "steps"},
	step.KindCrop:         {"aspectRatio", "input", "output"},
	step.KindChat:         {"prompt", "output", "maxTokens"},
}

// ValidateDomain performs Phase 3 domain-level validation.
func ValidateDomain(p *Pipeline, extraVars ...string) []*ValidationError {
	var errs []*ValidationError

	// D1: apiVersion
	if p.APIVersion != APIVersion {
		errs = append(errs, errorf(PhaseDomain, "apiVersion", "expected %q, got %q", APIVersion, p.APIVersion))
	}
	// D2: at least one root step
	if len(p.Steps) == 0 {
		errs = append(errs, errorf(PhaseDomain, "steps", "at least one step is required"))
	}

	// D3: per-kind fields, guards, ratios, placeholders
	scope := newScope(append(append([]string(nil), SeedNames...), extraVars...))
	if p.WorkDir != "" {
		errs = append(errs, checkTemplate("workDir", p.WorkDir, scope)...)
	}
	errs = append(errs, validateSteps(p.Steps, "steps", scope)...)
	return errs
}

func validateSteps(steps []StepConfig, prefix string, scope *scope) []*ValidationError {
	var errs []*ValidationError
	scope = scope.child()
	for i := range steps {
		s := &steps[i]
		path := fmt.Sprintf("%s[%d]", prefix, i)
		errs = append(errs, validateStep(s, path, scope)...)
		// A variable output is visible to the following siblings.
		if s.Output != nil && s.Output.Storage == "variable" && s.Output.Name != "" {
			scope.add(rootName(s.Output.Name))
		}
	}
	return errs
}

func validateStep(s *StepConfig, path string, scope *scope) []*ValidationError {
	var errs []*ValidationError
	kind := step.Kind(s.Step)
	allowed, known := fieldsByKind[kind]
	if !known {
		return []*ValidationError{errorf(PhaseDomain, path+".step", "unknown step kind %q", s.Step)}
	}

	for _, f := range setFields(s) {
		if !contains(allowed, f) {
			errs = append(errs, errorf(PhaseDomain, path+"."+f, "field %q is not valid for %s steps", f, kind))
		}
	}

	if s.When != "" {
		if err := eval.CheckCondition(s.When); err != nil {
			errs = append(errs, errorf(PhaseDomain, path+".when", "%s", err))
		}
	}

	switch kind {
	case step.KindForEachFile:
		if s.Dir == "" {
			errs = append(errs, errorf(PhaseDomain, path, "for-each-file step requires 'dir' field"))
		}
		errs = append(errs, checkTemplate(path+".dir", s.Dir, scope)...)
		errs = append(errs, validateContainer(s, path, scope, "filepath", "filename", "ext")...)

	case step.KindForEachValue:
		if len(s.Values) == 0 {
			errs = append(errs, warningf(PhaseDomain, path+".values", "for-each-value step has no values"))
		}
		for j, v := range s.Values {
			vp := fmt.Sprintf("%s.values[%d]", path, j)
			switch val := v.(type) {
			case string:
				errs = append(errs, checkTemplate(vp, val, scope)...)
			case int, int64, float64, uint64:
			default:
				errs = append(errs, errorf(PhaseDomain, vp, "value must be a string or number, got %T", v))
			}
		}
		errs = append(errs, validateContainer(s, path, scope, "value")...)

	case step.KindCrop:
		if s.AspectRatio == "" {
			errs = append(errs, errorf(PhaseDomain, path, "crop step requires 'aspectRatio' field"))
		} else if !eval.HasPlaceholders(s.AspectRatio) {
			if _, err := imaging.ParseAspectRatio(s.AspectRatio); err != nil {
				errs = append(errs, errorf(PhaseDomain, path+".aspectRatio", "%s", err))
			}
		}
		errs = append(errs, checkTemplate(path+".aspectRatio", s.AspectRatio, scope)...)
		if s.Input == "" {
			errs = append(errs, errorf(PhaseDomain, path, "crop step requires 'input' field"))
		}
		errs = append(errs, checkTemplate(path+".input", s.Input, scope)...)
		switch {
		case s.Output == nil:
			errs = append(errs, errorf(PhaseDomain, path, "crop step requires 'output' field"))
		case s.Output.Storage != "file":
			errs = append(errs, errorf(PhaseDomain, path+".output", "crop output must be a file path"))
		default:
			errs = append(errs, validateOutput(s.Output, path+".output", scope)...)
		}

	case step.KindChat:
		if s.Prompt == nil {
			errs = append(errs, errorf(PhaseDomain, path, "chat step requires 'prompt' field"))
		} else {
			errs = append(errs, validatePrompt(s.Prompt, path+".prompt", scope)...)
		}
		if s.Output == nil {
			errs = append(errs, errorf(PhaseDomain, path, "chat step requires 'output' field"))
		} else {
			errs = append(errs, validateOutput(s.Output, path+".output", scope)...)
		}
		if s.MaxTokens <= 0 {
			errs = append(errs, errorf(PhaseDomain, path+".maxTokens", "chat step requires 'maxTokens' greater than 0"))
		}
	}
	return errs
}

func validateContainer(s *StepConfig, path string, scope *scope, loopVars ...string) []*ValidationError {
	if len(s.Steps) == 0 {
		return []*ValidationError{warningf(PhaseDomain, path+".steps", "%s step has no child steps", s.Step)}
	}
	inner := scope.child()
	for _, v := range loopVars {
		inner.add(v)
	}
	return validateSteps(s.Steps, path+".steps", inner)
}

func validatePrompt(p *SourceConfig, path string, scope *scope) []*ValidationError {
	switch p.Source {
	case "literal":
		if p.Path != "" {
			return []*ValidationError{errorf(PhaseDomain, path+".path", "literal prompt cannot have 'path'")}
		}
		return checkTemplate(path, p.Text, scope)
	case "file":
		if p.Path == "" {
			return []*ValidationError{errorf(PhaseDomain, path, "file prompt requires 'path' field")}
		}
		if p.Text != "" {
			return []*ValidationError{errorf(PhaseDomain, path+".text", "file prompt cannot have 'text'")}
		}
		return checkTemplate(path+".path", p.Path, scope)
	default:
		return []*ValidationError{errorf(PhaseDomain, path+".source", "unknown source %q", p.Source)}
	}
}

func validateOutput(o *OutputConfig, path string, scope *scope) []*ValidationError {
	switch o.Storage {
	case "file":
		if o.Path == "" {
			return []*ValidationError{errorf(PhaseDomain, path, "file output requires 'path' field")}
		}
		if o.Name != "" {
			return []*ValidationError{errorf(PhaseDomain, path+".name", "file output cannot have 'name'")}
		}
		return checkTemplate(path+".path", o.Path, scope)
	case "variable":
		if o.Name == "" {
			return []*ValidationError{errorf(PhaseDomain, path, "variable output requires 'name' field")}
		}
		if o.Path != "" {
			return []*ValidationError{errorf(PhaseDomain, path+".path", "variable output cannot have 'path'")}
		}
		if len(eval.Placeholders("{"+o.Name+"}")) != 1 {
			return []*ValidationError{errorf(PhaseDomain, path+".name", "invalid variable name %q", o.Name)}
		}
		return nil
	default:
		return []*ValidationError{errorf(PhaseDomain, path+".storage", "unknown storage %q", o.Storage)}
	}
}

// checkTemplate warns about placeholders whose root is not statically in scope.
// Variables can still arrive at run time (for example via --var), so this
// is never an error.
func checkTemplate(path, tmpl string, scope *scope) []*ValidationError {
	var errs []*ValidationError
	for _, ref := range eval.Placeholders(tmpl) {
		if !scope.has(rootName(ref)) {
			errs = append(errs, warningf(PhaseDomain, path, "variable {%s} is not defined in this scope", ref))
		}
	}
	return errs
}

func setFields(s *StepConfig) []string {
	var fields []string
	if s.Dir != "" {
		fields = append(fields, "dir")
	}
	if s.Values != nil {
		fields = append(fields, "values")
	}
	if s.Steps != nil {
		fields = append(fields, "steps")
	}
	if s.AspectRatio != "" {
		fields = append(fields, "aspectRatio")
	}
	if s.Input != "" {
		fields = append(fields, "input")
	}
	if s.Prompt != nil {
		fields = append(fields, "prompt")
	}
	if s.MaxTokens != 0 {
		fields = append(fields, "maxTokens")
	}
	if s.Output != nil {
		fields = append(fields, "output")
	}
	return fields
}

func rootName(ref string) string {
	root, _, _ := strings.Cut(ref, ".")
	return root
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// scope is the set of variable roots statically visible at a point in the tree.
type scope struct {
	parent *scope
	names  map[string]bool
}

func newScope(names []string) *scope {
	s := &scope{names: map[string]bool{}}
	for _, n := range names {
		s.add(n)
	}
	return s
}

func (s *scope) child() *scope { return &scope{parent: s, names: map[string]bool{}} }

func (s *scope) add(name string) { s.names[name] = true }

func (s *scope) has(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.names[name] {
			return true
		}
	}
	return false
}
