package schema

import (
	"encoding/json"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ormasoftchile/stockpipe/pkg/source"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/storage"
)

func testdataPath(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

func TestLoadFile_Valid(t *testing.T) {
	p, err := LoadFile(testdataPath("valid.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "digital-poster" {
		t.Errorf("name = %q", p.Name)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("expected 2 root steps, got %d", len(p.Steps))
	}
	chat := p.Steps[0].Steps[1]
	if chat.Prompt == nil || chat.Prompt.Source != "file" || chat.Prompt.Path != "prompts/title.txt" {
		t.Errorf("prompt = %+v", chat.Prompt)
	}
	if chat.Output == nil || chat.Output.Storage != "variable" || chat.Output.Name != "title" {
		t.Errorf("output = %+v", chat.Output)
	}
	crop := p.Steps[0].Steps[0]
	if crop.Output == nil || crop.Output.Storage != "file" || crop.Output.Path != "cropped/{filename}{ext}" {
		t.Errorf("crop output shorthand = %+v", crop.Output)
	}
	literal := p.Steps[0].Steps[2]
	if literal.Prompt.Source != "literal" || literal.Prompt.Text != "Keywords for {title}" {
		t.Errorf("literal prompt = %+v", literal.Prompt)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := LoadFile(testdataPath("unknown_field.yaml")); err == nil {
		t.Fatal("expected error for unknown step field")
	}
	if _, err := LoadFile(testdataPath("unknown_prompt_field.yaml")); err == nil {
		t.Fatal("expected error for unknown prompt field")
	}
}

func TestLoad_Empty(t *testing.T) {
	if _, err := Load(strings.NewReader("")); err == nil {
		t.Error("expected error for empty document")
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	for _, want := range []string{"for-each-file", "stockpipe/v1", "oneOf", "aspectRatio"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestBuild(t *testing.T) {
	p, err := LoadFile(testdataPath("valid.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	steps, err := p.Build()
	if err != nil {
		t.Fatal(err)
	}
	if step.Count(steps) != 6 {
		t.Errorf("step count = %d, want 6", step.Count(steps))
	}
	ff, ok := steps[0].(*step.ForEachFile)
	if !ok {
		t.Fatalf("steps[0] is %T", steps[0])
	}
	if ff.Label() != "posters" || ff.Dir != "{input}" {
		t.Errorf("for-each-file = %+v", ff)
	}
	crop := ff.Steps[0].(*step.Crop)
	if crop.AspectRatio != "a4" || crop.Output != "cropped/{filename}{ext}" {
		t.Errorf("crop = %+v", crop)
	}
	chat := ff.Steps[1].(*step.Chat)
	if chat.Prompt != source.File("prompts/title.txt") {
		t.Errorf("prompt = %+v", chat.Prompt)
	}
	if chat.Output != storage.Variable("title") {
		t.Errorf("output = %+v", chat.Output)
	}
	if chat.MaxTokens != 25 || chat.Condition() != `ext == ".png"` {
		t.Errorf("chat = %+v", chat)
	}
	fv := steps[1].(*step.ForEachValue)
	if len(fv.Values) != 3 || fv.Values[0] != "en" || fv.Values[2] != 3 {
		t.Errorf("values = %#v", fv.Values)
	}
	if fv.Steps[0].(*step.Chat).Output != storage.File("hello/{value}.txt") {
		t.Errorf("shorthand output = %+v", fv.Steps[0].(*step.Chat).Output)
	}
}
