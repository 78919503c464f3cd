package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ormasoftchile/stockpipe/pkg/eval"
	"github.com/ormasoftchile/stockpipe/pkg/schema"
	"github.com/ormasoftchile/stockpipe/pkg/source"
	"github.com/ormasoftchile/stockpipe/pkg/step"
	"github.com/ormasoftchile/stockpipe/pkg/trace"
)

// ActionError wraps a failure returned by an external collaborator.
// The engine adds no retry; Err is the collaborator's error as-is.
type ActionError struct {
	Action string // crop, probe, chat
	Step   string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s action failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// StepError locates a failure in the step tree. Only the innermost failing
// step wraps the cause; enclosing containers pass it through unchanged.
type StepError struct {
	Path string
	Kind step.Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// failureOf classifies err for the trace.
func failureOf(err error) *trace.Failure {
	kind := "error"
	var (
		ve  *schema.ValidationError
		vre *eval.VariableResolutionError
		sre *source.ResolutionError
		ae  *ActionError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = "cancelled"
	case errors.As(err, &ve):
		kind = "validation"
	case errors.As(err, &vre):
		kind = "variable"
	case errors.As(err, &sre):
		kind = "source"
	case errors.As(err, &ae):
		kind = "action"
	}
	return &trace.Failure{Kind: kind, Message: err.Error()}
}
