// Package env implements the scoped variable context passed through a
// pipeline's step tree.
//
// An Environment is a persistent chain of immutable frames. Extending an
// Environment never mutates it: the child gets a new frame that shadows the
// parent's bindings, so sibling branches created from the same parent never
// observe each other's additions.
package env

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

// Well-known seed variable names.
const (
	VarCwd     = "cwd"
	VarWorkDir = "workDir"
	VarInput   = "input"
	VarEnv     = "env"
)

// Environment is an immutable, structurally shared variable scope.
// The zero value and nil are both valid empty environments.
type Environment struct {
	parent *Environment
	vars   map[string]any
}

// New returns a root Environment holding a deep copy of bindings.
func New(bindings map[string]any) *Environment {
	return (*Environment)(nil).Extend(bindings)
}

// Seed builds the initial Environment for a run: the current directory, the
// working directory baseline, the run input and the process environment.
func Seed(cwd, workDir, input string, environ map[string]string) *Environment {
	if workDir == "" {
		workDir = cwd
	}
	envMap := make(map[string]any, len(environ))
	for k, v := range environ {
		envMap[k] = v
	}
	return New(map[string]any{
		VarCwd:     cwd,
		VarWorkDir: workDir,
		VarInput:   input,
		VarEnv:     envMap,
	})
}

// ProcessEnviron returns the current process environment as a map.
func ProcessEnviron() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

// Extend returns a new Environment equal to e with bindings applied.
// Keys may be dotted paths; a dotted key rebinds a nested value by copying
// the containing mappings, never by writing into them.
func (e *Environment) Extend(bindings map[string]any) *Environment {
	frame := make(map[string]any, len(bindings))
	child := &Environment{parent: e, vars: frame}

	// Deterministic order so that overlapping dotted keys apply predictably.
	for _, k := range slices.Sorted(maps.Keys(bindings)) {
		v := bindings[k]
		root, rest, dotted := strings.Cut(k, ".")
		if !dotted {
			frame[k] = cloneValue(v)
			continue
		}
		var base map[string]any
		if cur, ok := child.Get(root); ok {
			base, _ = cur.(map[string]any)
		}
		frame[root] = setPath(base, strings.Split(rest, "."), cloneValue(v))
	}
	return child
}

// Bind is shorthand for extending e with a single binding.
func (e *Environment) Bind(path string, value any) *Environment {
	return e.Extend(map[string]any{path: value})
}

// Get returns the top-level binding for name, searching from the innermost
// frame outwards.
func (e *Environment) Get(name string) (any, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Lookup resolves a dotted path such as "env.OPENAI_API_KEY".
func (e *Environment) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	v, ok := e.Get(parts[0])
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		m, isMap := v.(map[string]any)
		if !isMap {
			return nil, false
		}
		if v, ok = m[p]; !ok {
			return nil, false
		}
	}
	return v, true
}

// String looks up path and formats it as text. Missing paths return "", false.
func (e *Environment) String(path string) (string, bool) {
	v, ok := e.Lookup(path)
	if !ok {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return fmt.Sprint(v), true
}

// WorkDir returns the working-directory baseline used for file sources and
// storage targets. It falls back to cwd, then ".".
func (e *Environment) WorkDir() string {
	if wd, ok := e.String(VarWorkDir); ok && wd != "" {
		return wd
	}
	if cwd, ok := e.String(VarCwd); ok && cwd != "" {
		return cwd
	}
	return "."
}

// Names returns the visible top-level names in sorted order.
func (e *Environment) Names() []string {
	seen := make(map[string]struct{})
	for cur := e; cur != nil; cur = cur.parent {
		for k := range cur.vars {
			seen[k] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Snapshot flattens the chain into a fresh map. Nested mappings are deep
// copied, so callers may modify the result freely.
func (e *Environment) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, name := range e.Names() {
		v, _ := e.Get(name)
		out[name] = cloneValue(v)
	}
	return out
}

// setPath returns a copy of base with value stored under the nested path.
func setPath(base map[string]any, path []string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	if len(path) == 1 {
		out[path[0]] = value
		return out
	}
	next, _ := base[path[0]].(map[string]any)
	out[path[0]] = setPath(next, path[1:], value)
	return out
}

// cloneValue deep-copies composite values so an Environment never aliases
// containers owned by the caller. map[string]string and []string are
// normalized to their `any` forms.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = inner
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = inner
		}
		return out
	default:
		return v
	}
}
