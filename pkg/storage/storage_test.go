package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ormasoftchile/stockpipe/pkg/env"
	"github.com/ormasoftchile/stockpipe/pkg/fsys"
)

func TestWrite_FileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	e := env.New(map[string]any{"workDir": dir, "filename": "a"})
	next, err := Write(fsys.OS{}, File("meta/{filename}.txt"), "keywords", e)
	if err != nil {
		t.Fatal(err)
	}
	if next != e {
		t.Error("file write should return the same environment")
	}
	data, err := os.ReadFile(filepath.Join(dir, "meta", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "keywords" {
		t.Errorf("got %q", data)
	}
}

func TestWrite_FileNumber(t *testing.T) {
	dir := t.TempDir()
	e := env.New(map[string]any{"workDir": dir})
	if _, err := Write(fsys.OS{}, File("n.txt"), 2.5, e); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "n.txt"))
	if string(data) != "2.5" {
		t.Errorf("got %q", data)
	}
}

func TestWrite_VariableIsolated(t *testing.T) {
	parent := env.New(map[string]any{"workDir": "/w"})
	left := parent.Bind("value", "a")
	right := parent.Bind("value", "b")

	left2, err := Write(fsys.OS{}, Variable("x"), "from-left", left)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := left2.Lookup("x"); v != "from-left" {
		t.Errorf("left branch x = %v", v)
	}
	if _, ok := right.Lookup("x"); ok {
		t.Error("sibling branch observed x")
	}
	if _, ok := parent.Lookup("x"); ok {
		t.Error("parent observed x")
	}
}

func TestWrite_VariableNoName(t *testing.T) {
	if _, err := Write(fsys.OS{}, Variable(""), "v", env.New(nil)); err == nil {
		t.Error("expected error for unnamed variable target")
	}
}
