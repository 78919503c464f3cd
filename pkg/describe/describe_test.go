package describe

import (
	"strings"
	"testing"

	"github.com/ormasoftchile/stockpipe/pkg/schema"
	"github.com/ormasoftchile/stockpipe/pkg/source"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/storage"
)

func TestMarkdown(t *testing.T) {
	p := &schema.Pipeline{
		APIVersion:  schema.APIVersion,
		Name:        "digital-poster",
		Description: "Crop and title posters.",
		WorkDir:     "{cwd}/out",
	}
	steps := []step.Step{
		&step.ForEachFile{Dir: "{input}", Steps: []step.Step{
			&step.Crop{AspectRatio: "a4", Input: "{filepath}", Output: "c/{filename}{ext}"},
			&step.Chat{Base: step.Base{Name: "title"}, Prompt: source.Literal("x"), Output: storage.Variable("title"), MaxTokens: 5},
			&step.Chat{Prompt: source.File("p.txt"), Output: storage.File("meta/{filename}.txt"), MaxTokens: 5},
		}},
	}

	md, err := Markdown(p, steps)
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	for _, want := range []string{
		"# digital-poster",
		"Crop and title posters.",
		"| workDir | `{cwd}/out` |",
		"| for-each-file | 1 |",
		"| chat | 2 |",
		"## Steps",
		"`c/{filename}{ext}` (crop, file)",
		"`{title}` (title, variable)",
		"`meta/{filename}.txt` (chat, file)",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("missing %q in:\n%s", want, md)
		}
	}
	if strings.Contains(md, "for-each-value |") {
		t.Error("kinds with no steps should be omitted")
	}
}

func TestRender_FallsBackOnEmpty(t *testing.T) {
	if got := Render("  ", 0); got != "  " {
		t.Errorf("got %q", got)
	}
}

func TestRender(t *testing.T) {
	out := Render("# Title\n\nbody", 40)
	if !strings.Contains(out, "Title") || !strings.Contains(out, "body") {
		t.Errorf("rendered output lost content: %q", out)
	}
}
