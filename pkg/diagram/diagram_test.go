package diagram

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/stockpipe/pkg/source"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/storage"
)

func posterSteps() []step.Step {
	return []step.Step{
		&step.ForEachFile{
			Base: step.Base{Name: "posters"},
			Dir:  "{input}",
			Steps: []step.Step{
				&step.Crop{AspectRatio: "a4", Input: "{filepath}", Output: "out/{filename}{ext}"},
				&step.Chat{
					Base:      step.Base{When: `ext == ".png"`},
					Prompt:    source.Literal("Title for {filename}"),
					Output:    storage.Variable("title"),
					MaxTokens: 20,
				},
			},
		},
		&step.ForEachValue{Values: []any{"a", "b"}},
	}
}

func TestGenerateMermaid_Edges(t *testing.T) {
	out, err := Generate("p", posterSteps(), FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"flowchart TD",
		"START([Start]) --> steps_0",
		`steps_0 -->|"each"| steps_0_steps_0`,
		"steps_0_steps_0 --> steps_0_steps_1",
		`steps_0_steps_1 -.->|"next"| steps_0`,
		"steps_0 --> steps_1",
		"style steps_0_steps_1 stroke-dasharray",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestGenerateMermaid_Empty(t *testing.T) {
	out, _ := Generate("p", nil, FormatMermaid)
	if out != "flowchart TD\n" {
		t.Errorf("got %q", out)
	}
}

func TestGenerateASCII_Boxes(t *testing.T) {
	out, err := Generate("digital-poster", posterSteps(), FormatASCII)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"digital-poster", "posters", "each file in {input}", "a4 → out/{filename}{ext}", "→ {title}", "when ext == \".png\"", "each of 2 values"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	// Every box line at one depth has the same display width.
	widths := map[int]int{}
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if trimmed == "│" || !strings.HasPrefix(trimmed, "│") || !strings.HasSuffix(trimmed, "│") {
			continue
		}
		indent := len(line) - len(trimmed)
		w := runewidth.StringWidth(trimmed)
		if prev, ok := widths[indent]; ok && prev != w {
			t.Errorf("misaligned box at indent %d: %d vs %d\n%s", indent, prev, w, out)
		}
		widths[indent] = w
	}
	if len(widths) != 2 {
		t.Errorf("expected boxes at 2 depths, got %v", widths)
	}
}

func TestGenerateASCII_Empty(t *testing.T) {
	out, _ := Generate("", nil, FormatASCII)
	if out != "Pipeline (empty)\n" {
		t.Errorf("got %q", out)
	}
}

func TestGenerate_UnsupportedFormat(t *testing.T) {
	if _, err := Generate("p", nil, "svg"); err == nil {
		t.Error("expected error")
	}
}
