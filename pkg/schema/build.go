package schema

import (
	"fmt"

	"github.com/ormasoftchile/stockpipe/pkg/source"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/storage"
)

// Build converts a validated document into the typed step tree.
func (p *Pipeline) Build() ([]step.Step, error) {
	return buildSteps(p.Steps, "steps")
}

func buildSteps(configs []StepConfig, prefix string) ([]step.Step, error) {
	out := make([]step.Step, 0, len(configs))
	for i := range configs {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		s, err := buildStep(&configs[i], path)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func buildStep(c *StepConfig, path string) (step.Step, error) {
	base := step.Base{Name: c.Name, When: c.When}
	switch step.Kind(c.Step) {
	case step.KindForEachFile:
		children, err := buildSteps(c.Steps, path+".steps")
		if err != nil {
			return nil, err
		}
		return &step.ForEachFile{Base: base, Dir: c.Dir, Steps: children}, nil

	case step.KindForEachValue:
		children, err := buildSteps(c.Steps, path+".steps")
		if err != nil {
			return nil, err
		}
		values := append([]any(nil), c.Values...)
		return &step.ForEachValue{Base: base, Values: values, Steps: children}, nil

	case step.KindCrop:
		if c.Output == nil || c.Output.Storage != "file" {
			return nil, errorf(PhaseDomain, path+".output", "crop output must be a file path")
		}
		return &step.Crop{Base: base, AspectRatio: c.AspectRatio, Input: c.Input, Output: c.Output.Path}, nil

	case step.KindChat:
		if c.Prompt == nil {
			return nil, errorf(PhaseDomain, path, "chat step requires 'prompt' field")
		}
		if c.Output == nil {
			return nil, errorf(PhaseDomain, path, "chat step requires 'output' field")
		}
		prompt := source.Literal(c.Prompt.Text)
		if c.Prompt.Source == "file" {
			prompt = source.File(c.Prompt.Path)
		}
		target := storage.File(c.Output.Path)
		if c.Output.Storage == "variable" {
			target = storage.Variable(c.Output.Name)
		}
		return &step.Chat{Base: base, Prompt: prompt, Output: target, MaxTokens: c.MaxTokens}, nil

	default:
		return nil, errorf(PhaseDomain, path+".step", "unknown step kind %q", c.Step)
	}
}

// LoadSteps validates a pipeline file and builds its step tree. Warnings
// are returned alongside the tree; any error-severity finding aborts.
func LoadSteps(path string, extraVars ...string) (*Pipeline, []step.Step, []*ValidationError, error) {
	p, findings := ValidateFile(path, extraVars...)
	if HasErrors(findings) {
		return p, nil, findings, firstError(findings)
	}
	steps, err := p.Build()
	if err != nil {
		return p, nil, findings, err
	}
	return p, steps, findings, nil
}

func firstError(findings []*ValidationError) error {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return f
		}
	}
	return nil
}
