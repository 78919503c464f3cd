// Package storage routes a leaf step's result to a file or back into the
// current Environment branch.
package storage

import (
	"fmt"

	"github.com/ormasoftchile/stockpipe/pkg/env"
	"github.com/ormasoftchile/stockpipe/pkg/eval"
	"github.com/ormasoftchile/stockpipe/pkg/fsys"
)

// Kind discriminates the Target variants.
type Kind string

const (
	KindFile     Kind = "file"
	KindVariable Kind = "variable"
)

// Target is a file destination or a variable destination.
type Target struct {
	Kind Kind
	Path string // file: templated path
	Name string // variable: binding name, dotted paths allowed
}

// File returns a file Target.
func File(path string) Target {
	return Target{Kind: KindFile, Path: path}
}

// Variable returns a variable Target.
func Variable(name string) Target {
	return Target{Kind: KindVariable, Name: name}
}

func (t Target) String() string {
	if t.Kind == KindVariable {
		return "var:" + t.Name
	}
	return "file:" + t.Path
}

// Write stores value through t and returns the Environment the rest of the
// branch should see. File writes return e unchanged; variable writes return
// a new child of e, leaving e and every sibling branch untouched.
func Write(fs fsys.FS, t Target, value any, e *env.Environment) (*env.Environment, error) {
	switch t.Kind {
	case KindFile:
		path, err := FilePath(t, e)
		if err != nil {
			return nil, err
		}
		text, err := eval.Format(value)
		if err != nil {
			return nil, fmt.Errorf("format value for %s: %w", path, err)
		}
		if err := fs.WriteFile(path, []byte(text)); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		return e, nil
	case KindVariable:
		if t.Name == "" {
			return nil, fmt.Errorf("variable target has no name")
		}
		return e.Bind(t.Name, value), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", t.Kind)
	}
}

// FilePath templates a file target's path and resolves it against the
// Environment's working directory.
func FilePath(t Target, e *env.Environment) (string, error) {
	rel, err := eval.ResolveString(t.Path, e)
	if err != nil {
		return "", err
	}
	return fsys.Resolve(e.WorkDir(), rel), nil
}
