// Package eval resolves {path} placeholders against an Environment and
// evaluates step `when` guards.
package eval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ormasoftchile/stockpipe/pkg/env"
)

// placeholderRe matches {path} where path is a dotted identifier such as
// {filename} or {env.OPENAI_API_KEY}. Braces around anything else (JSON
// snippets in prompts, for instance) are left untouched.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_-]*(?:\.[A-Za-z0-9_-]+)*)\}`)

// VariableResolutionError reports a placeholder whose path is not bound.
type VariableResolutionError struct {
	Path     string
	Template string
}

func (e *VariableResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve {%s}: not found in environment", e.Path)
}

// ResolveString substitutes every placeholder in s.
// Example: ResolveString("{a.b}.png", {a:{b:"X"}}) → "X.png"
func ResolveString(s string, e *env.Environment) (string, error) {
	if !strings.Contains(s, "{") {
		return s, nil // fast path for literals
	}

	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		path := match[1 : len(match)-1]
		v, ok := e.Lookup(path)
		if !ok {
			firstErr = &VariableResolutionError{Path: path, Template: s}
			return match
		}
		text, err := Format(v)
		if err != nil {
			firstErr = fmt.Errorf("format {%s}: %w", path, err)
			return match
		}
		return text
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Resolve walks an arbitrary value: strings are templated, slices and
// mappings are resolved element-wise into new containers, everything else
// passes through unchanged. e is never modified.
func Resolve(value any, e *env.Environment) (any, error) {
	switch val := value.(type) {
	case string:
		return ResolveString(val, e)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := Resolve(item, e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			r, err := ResolveString(item, e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := Resolve(item, e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			r, err := ResolveString(item, e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveValues resolves a list of scalar values, as used by for-each-value.
func ResolveValues(values []any, e *env.Environment) ([]any, error) {
	r, err := Resolve(values, e)
	if err != nil {
		return nil, err
	}
	return r.([]any), nil
}

// Placeholders returns the paths referenced by s, in order of appearance.
func Placeholders(s string) []string {
	matches := placeholderRe.FindAllStringSubmatch(s, -1)
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, m[1])
	}
	return paths
}

// HasPlaceholders reports whether s contains at least one placeholder.
func HasPlaceholders(s string) bool {
	return placeholderRe.MatchString(s)
}

// Format renders a bound value as text.
func Format(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(val), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
