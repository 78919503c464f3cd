// Package step defines the typed pipeline tree. The set of step kinds is
// closed: Step can only be implemented inside this package, and the
// interpreter switches over the concrete types exhaustively.
package step

import (
	"github.com/ormasoftchile/stockpipe/pkg/source"
	"github.com/ormasoftchile/stockpipe/pkg/storage"
)

// Kind is the discriminator used in pipeline documents.
type Kind string

const (
	KindForEachFile  Kind = "for-each-file"
	KindForEachValue Kind = "for-each-value"
	KindCrop         Kind = "crop"
	KindChat         Kind = "chat"
)

// Kinds lists every step kind in declaration order.
var Kinds = []Kind{KindForEachFile, KindForEachValue, KindCrop, KindChat}

// Step is one node of the pipeline tree.
type Step interface {
	Kind() Kind
	// Label is the display name, falling back to the kind.
	Label() string
	// Condition is the optional `when` guard; empty means always run.
	Condition() string
	sealed()
}

// Container is implemented by steps that own child steps.
type Container interface {
	Step
	Children() []Step
}

// Base carries the fields shared by every variant.
type Base struct {
	Name string
	When string
}

func (b Base) label(k Kind) string {
	if b.Name != "" {
		return b.Name
	}
	return string(k)
}

func (b Base) Condition() string { return b.When }
func (Base) sealed()             {}

// ForEachFile runs Steps once per entry of Dir.
type ForEachFile struct {
	Base
	Dir   string
	Steps []Step
}

func (*ForEachFile) Kind() Kind         { return KindForEachFile }
func (s *ForEachFile) Label() string    { return s.label(KindForEachFile) }
func (s *ForEachFile) Children() []Step { return s.Steps }

// ForEachValue runs Steps once per element of Values, bound as `value`.
type ForEachValue struct {
	Base
	Values []any
	Steps  []Step
}

func (*ForEachValue) Kind() Kind         { return KindForEachValue }
func (s *ForEachValue) Label() string    { return s.label(KindForEachValue) }
func (s *ForEachValue) Children() []Step { return s.Steps }

// Crop center-crops Input to AspectRatio and writes Output.
type Crop struct {
	Base
	AspectRatio string
	Input       string
	Output      string
}

func (*Crop) Kind() Kind      { return KindCrop }
func (s *Crop) Label() string { return s.label(KindCrop) }

// Chat sends Prompt to the chat collaborator and stores the reply.
type Chat struct {
	Base
	Prompt    source.Source
	Output    storage.Target
	MaxTokens int
}

func (*Chat) Kind() Kind      { return KindChat }
func (s *Chat) Label() string { return s.label(KindChat) }

// Walk visits steps depth-first in declared order. fn receives the step and
// its depth; returning false skips the step's children.
func Walk(steps []Step, fn func(s Step, depth int) bool) {
	walk(steps, 0, fn)
}

func walk(steps []Step, depth int, fn func(Step, int) bool) {
	for _, s := range steps {
		if !fn(s, depth) {
			continue
		}
		if c, ok := s.(Container); ok {
			walk(c.Children(), depth+1, fn)
		}
	}
}

// Count returns the number of steps in the tree.
func Count(steps []Step) int {
	n := 0
	Walk(steps, func(Step, int) bool { n++; return true })
	return n
}
