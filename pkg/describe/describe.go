// Package describe renders a human-readable summary of a pipeline.
package describe

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ormasoftchile/stockpipe/pkg/diagram"
	"github.com/ormasoftchile/stockpipe/pkg/schema"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/storage"
)

// Markdown summarizes p and its compiled steps.
func Markdown(p *schema.Pipeline, steps []step.Step) (string, error) {
	var b strings.Builder

	name := p.Name
	if name == "" {
		name = "Pipeline"
	}
	b.WriteString("# " + name + "\n\n")
	if p.Description != "" {
		b.WriteString(strings.TrimSpace(p.Description) + "\n\n")
	}

	b.WriteString("| | |\n|---|---|\n")
	b.WriteString(fmt.Sprintf("| apiVersion | `%s` |\n", p.APIVersion))
	if p.WorkDir != "" {
		b.WriteString(fmt.Sprintf("| workDir | `%s` |\n", p.WorkDir))
	}
	counts := map[step.Kind]int{}
	step.Walk(steps, func(s step.Step, _ int) bool { counts[s.Kind()]++; return true })
	for _, k := range step.Kinds {
		if counts[k] > 0 {
			b.WriteString(fmt.Sprintf("| %s | %d |\n", k, counts[k]))
		}
	}
	b.WriteString("\n")

	tree, err := diagram.Generate(name, steps, diagram.FormatASCII)
	if err != nil {
		return "", err
	}
	b.WriteString("## Steps\n\n```\n" + tree + "```\n")

	if outs := outputs(steps); len(outs) > 0 {
		b.WriteString("\n## Outputs\n\n")
		for _, o := range outs {
			b.WriteString("- " + o + "\n")
		}
	}
	return b.String(), nil
}

// outputs lists every storage target in declared order.
func outputs(steps []step.Step) []string {
	var out []string
	step.Walk(steps, func(s step.Step, _ int) bool {
		switch v := s.(type) {
		case *step.Crop:
			out = append(out, fmt.Sprintf("`%s` (%s, file)", v.Output, v.Label()))
		case *step.Chat:
			if v.Output.Kind == storage.KindVariable {
				out = append(out, fmt.Sprintf("`{%s}` (%s, variable)", v.Output.Name, v.Label()))
			} else {
				out = append(out, fmt.Sprintf("`%s` (%s, file)", v.Output.Path, v.Label()))
			}
		}
		return true
	})
	return out
}

// Render styles markdown for the terminal. width 0 disables wrapping.
// Falls back to the raw input if rendering fails.
func Render(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n") + "\n"
}
