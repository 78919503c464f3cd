// Package source models a step's textual input: an inline literal or a
// file read relative to the working directory.
package source

import (
	"fmt"
	"unicode/utf8"

	"github.com/ormasoftchile/stockpipe/pkg/env"
	"github.com/ormasoftchile/stockpipe/pkg/eval"
	"github.com/ormasoftchile/stockpipe/pkg/fsys"
)

// Kind discriminates the Source variants.
type Kind string

const (
	KindLiteral Kind = "literal"
	KindFile    Kind = "file"
)

// Source is either a literal string or a file reference.
type Source struct {
	Kind Kind
	Text string // literal text
	Path string // templated file path
}

// Literal returns an inline Source.
func Literal(text string) Source {
	return Source{Kind: KindLiteral, Text: text}
}

// File returns a file-backed Source.
func File(path string) Source {
	return Source{Kind: KindFile, Path: path}
}

func (s Source) String() string {
	if s.Kind == KindFile {
		return "file:" + s.Path
	}
	return s.Text
}

// ResolutionError reports a file source that could not be read.
type ResolutionError struct {
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve source %s: %v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolve returns the Source's text. Literals are returned unchanged; file
// paths are templated against e, joined with its working directory and read
// as UTF-8.
func Resolve(fs fsys.FS, s Source, e *env.Environment) (string, error) {
	switch s.Kind {
	case KindLiteral, "":
		return s.Text, nil
	case KindFile:
		rel, err := eval.ResolveString(s.Path, e)
		if err != nil {
			return "", err
		}
		path := fsys.Resolve(e.WorkDir(), rel)
		data, err := fs.ReadFile(path)
		if err != nil {
			return "", &ResolutionError{Path: path, Err: err}
		}
		if !utf8.Valid(data) {
			return "", &ResolutionError{Path: path, Err: fmt.Errorf("not valid UTF-8")}
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s.Kind)
	}
}
