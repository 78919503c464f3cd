// Package diagram renders a pipeline's step tree as a Mermaid flowchart or
// an ASCII box diagram.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/stockpipe/pkg/source"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/storage"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram of steps titled name.
func Generate(name string, steps []step.Step, format Format) (string, error) {
	switch format {
	case FormatMermaid:
		return generateMermaid(steps), nil
	case FormatASCII:
		return generateASCII(name, steps), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(steps []step.Step) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	nodes := flatten(steps)
	if len(nodes) == 0 {
		return b.String()
	}
	b.WriteString("    START([Start]) --> " + safeID(nodes[0].path) + "\n")
	writeMermaidList(&b, steps, "steps")
	return b.String()
}

func writeMermaidList(b *strings.Builder, steps []step.Step, prefix string) {
	for i, s := range steps {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		ds := describeStep(s, path, 0)
		b.WriteString("    " + nodeDefinition(ds) + "\n")

		if c, ok := s.(step.Container); ok && len(c.Children()) > 0 {
			childPrefix := path + ".steps"
			first := fmt.Sprintf("%s[0]", childPrefix)
			last := fmt.Sprintf("%s[%d]", childPrefix, len(c.Children())-1)
			b.WriteString(fmt.Sprintf("    %s -->|\"each\"| %s\n", safeID(path), safeID(first)))
			writeMermaidList(b, c.Children(), childPrefix)
			b.WriteString(fmt.Sprintf("    %s -.->|\"next\"| %s\n", safeID(last), safeID(path)))
		}
		if i < len(steps)-1 {
			next := fmt.Sprintf("%s[%d]", prefix, i+1)
			b.WriteString(fmt.Sprintf("    %s --> %s\n", safeID(path), safeID(next)))
		}
		if s.Condition() != "" {
			b.WriteString(fmt.Sprintf("    style %s stroke-dasharray: 4 4\n", safeID(path)))
		}
	}
}

// --- ASCII ---

func generateASCII(name string, steps []step.Step) string {
	var b strings.Builder
	if name == "" {
		name = "Pipeline"
	}

	nodes := flatten(steps)
	if len(nodes) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	const indent = 4
	const nest = 4
	boxWidth := computeUniformBoxWidth(nodes, name)
	mid := boxWidth / 2

	headerText := centerPad(name, boxWidth)
	pad := strings.Repeat(" ", indent)
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + headerText + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")

	for _, n := range nodes {
		left := indent + n.depth*nest
		b.WriteString(strings.Repeat(" ", left+1+mid) + "│\n")
		writeASCIIStep(&b, n, left, boxWidth)
	}
	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed across
// all steps and the header name.
func computeUniformBoxWidth(nodes []diagramStep, name string) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, n := range nodes {
		for _, line := range n.lines() {
			if lw := runewidth.StringWidth(line); lw > w {
				w = lw
			}
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIStep(b *strings.Builder, n diagramStep, left, boxWidth int) {
	pad := strings.Repeat(" ", left)
	mid := boxWidth / 2
	b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
	for _, line := range n.lines() {
		lw := runewidth.StringWidth(line)
		b.WriteString(pad + "│" + line + strings.Repeat(" ", boxWidth-lw) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

func stepIcon(k step.Kind) string {
	switch k {
	case step.KindForEachFile:
		return "📂"
	case step.KindForEachValue:
		return "🔁"
	case step.KindCrop:
		return "✂"
	case step.KindChat:
		return "💬"
	default:
		return "○"
	}
}

// --- tree walking helpers ---

type diagramStep struct {
	path   string
	kind   step.Kind
	label  string
	detail string
	when   string
	depth  int
}

func (d diagramStep) lines() []string {
	out := []string{fmt.Sprintf(" %s %s ", stepIcon(d.kind), d.label)}
	if d.detail != "" {
		out = append(out, "   "+d.detail+" ")
	}
	if d.when != "" {
		out = append(out, "   when "+truncate(d.when, 40)+" ")
	}
	return out
}

func flatten(steps []step.Step) []diagramStep {
	var out []diagramStep
	var walk func(steps []step.Step, prefix string, depth int)
	walk = func(steps []step.Step, prefix string, depth int) {
		for i, s := range steps {
			path := fmt.Sprintf("%s[%d]", prefix, i)
			out = append(out, describeStep(s, path, depth))
			if c, ok := s.(step.Container); ok {
				walk(c.Children(), path+".steps", depth+1)
			}
		}
	}
	walk(steps, "steps", 0)
	return out
}

func describeStep(s step.Step, path string, depth int) diagramStep {
	ds := diagramStep{path: path, kind: s.Kind(), label: s.Label(), when: s.Condition(), depth: depth}
	switch v := s.(type) {
	case *step.ForEachFile:
		ds.detail = "each file in " + truncate(v.Dir, 40)
	case *step.ForEachValue:
		ds.detail = fmt.Sprintf("each of %d values", len(v.Values))
	case *step.Crop:
		ds.detail = v.AspectRatio + " → " + truncate(v.Output, 40)
	case *step.Chat:
		ds.detail = promptSummary(v.Prompt) + " → " + targetSummary(v.Output)
	}
	return ds
}

func promptSummary(s source.Source) string {
	if s.Kind == source.KindFile {
		return "file " + truncate(s.Path, 30)
	}
	return fmt.Sprintf("%q", truncate(s.Text, 24))
}

func targetSummary(t storage.Target) string {
	if t.Kind == storage.KindVariable {
		return "{" + t.Name + "}"
	}
	return truncate(t.Path, 30)
}

// --- string helpers ---

func nodeDefinition(s diagramStep) string {
	id := safeID(s.path)
	title := stepIcon(s.kind) + " " + escMermaid(s.label)
	if s.detail != "" {
		title += "<br/>" + escMermaid(s.detail)
	}
	switch s.kind {
	case step.KindForEachFile, step.KindForEachValue:
		return fmt.Sprintf(`%s{{"%s"}}`, id, title)
	case step.KindChat:
		return fmt.Sprintf(`%s[/"%s"/]`, id, title)
	default:
		return fmt.Sprintf(`%s["%s"]`, id, title)
	}
}

func safeID(id string) string {
	r := strings.NewReplacer("[", "_", "]", "", ".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
