package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ormasoftchile/stockpipe/pkg/env"
	"github.com/ormasoftchile/stockpipe/pkg/eval"
	"github.com/ormasoftchile/stockpipe/pkg/fsys"
)

func TestResolve_Literal(t *testing.T) {
	got, err := Resolve(fsys.OS{}, Literal("Describe {filename}"), env.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	// Literals are not templated here; the caller templates the text.
	if got != "Describe {filename}" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_FileRelativeToWorkDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "prompts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prompts", "title.txt"), []byte("Title for {filename}"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := env.New(map[string]any{"workDir": dir, "kind": "title"})
	got, err := Resolve(fsys.OS{}, File("prompts/{kind}.txt"), e)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Title for {filename}" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_MissingFile(t *testing.T) {
	e := env.New(map[string]any{"workDir": t.TempDir()})
	_, err := Resolve(fsys.OS{}, File("nope.txt"), e)
	var re *ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestResolve_PathVariableMissing(t *testing.T) {
	e := env.New(map[string]any{"workDir": t.TempDir()})
	_, err := Resolve(fsys.OS{}, File("{nope}.txt"), e)
	var vre *eval.VariableResolutionError
	if !errors.As(err, &vre) {
		t.Fatalf("expected VariableResolutionError, got %v", err)
	}
}

func TestResolve_FileNotUTF8(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "binary.txt"), []byte{0xff, 0xfe}, 0o644); err != nil {
		t.Fatal(err)
	}
	e := env.New(map[string]any{"workDir": dir})
	_, err := Resolve(fsys.OS{}, File("binary.txt"), e)
	var re *ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if re.Path != filepath.Join(dir, "binary.txt") {
		t.Errorf("path = %q", re.Path)
	}
}
