// Package trace implements the append-only JSONL run trace and the event
// model shared by the CLI, metrics and the live view.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates all trace event types.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunComplete  EventType = "run_complete"
	EventStepStart    EventType = "step_start"
	EventStepComplete EventType = "step_complete"
	EventForEachStart EventType = "for_each_start"
	EventForEachItem  EventType = "for_each_item"
	EventUpload       EventType = "upload"
)

// StepStatus is the execution status of a step or run.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(t EventType, runID string, data map[string]any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), RunID: runID, Data: data}
}

// String returns the event's data field as a string, or "".
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Failure describes why a step failed.
type Failure struct {
	Kind    string `json:"kind"` // validation, variable, source, action, cancelled
	Message string `json:"message"`
}

// StepStart builds a step_start event.
func StepStart(runID, path, kind, label string) Event {
	return NewEvent(EventStepStart, runID, map[string]any{
		"step_id": path,
		"kind":    kind,
		"label":   label,
	})
}

// StepComplete builds a step_complete event.
func StepComplete(runID, path, kind string, status StepStatus, duration time.Duration, failure *Failure) Event {
	data := map[string]any{
		"step_id":  path,
		"kind":     kind,
		"status":   string(status),
		"duration": duration.String(),
		"seconds":  duration.Seconds(),
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	return NewEvent(EventStepComplete, runID, data)
}

// ForEachStart builds a for_each_start event.
func ForEachStart(runID, path string, count int) Event {
	return NewEvent(EventForEachStart, runID, map[string]any{
		"step_id": path,
		"count":   count,
	})
}

// ForEachItem builds a for_each_item event.
func ForEachItem(runID, path string, index int, item any) Event {
	return NewEvent(EventForEachItem, runID, map[string]any{
		"step_id": path,
		"index":   index,
		"item":    item,
	})
}

// RunStart builds a run_start event.
func RunStart(runID, pipeline string, inputs map[string]any) Event {
	data := map[string]any{"pipeline": pipeline}
	if inputs != nil {
		data["inputs"] = inputs
	}
	return NewEvent(EventRunStart, runID, data)
}

// RunComplete builds a run_complete event.
func RunComplete(runID string, status StepStatus, duration time.Duration, err error) Event {
	data := map[string]any{
		"status":   string(status),
		"duration": duration.String(),
		"seconds":  duration.Seconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return NewEvent(EventRunComplete, runID, data)
}

// Writer writes trace events to an append-only JSONL stream. It is safe for
// concurrent use, so several runs may share one trace file.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	enc     *json.Encoder
	secrets []string // literal values replaced by <REDACTED>
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, enc: json.NewEncoder(w)}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f)
	tw.closer = f
	return tw, nil
}

// SetSecrets configures literal values (API keys, tokens) to redact.
func (tw *Writer) SetSecrets(values ...string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secrets = tw.secrets[:0]
	for _, v := range values {
		if v != "" {
			tw.secrets = append(tw.secrets, v)
		}
	}
}

// Write appends one event.
func (tw *Writer) Write(evt Event) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if len(tw.secrets) > 0 && evt.Data != nil {
		evt.Data = tw.redact(evt.Data).(map[string]any)
	}
	return tw.enc.Encode(evt)
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

func (tw *Writer) redact(v any) any {
	switch val := v.(type) {
	case string:
		for _, s := range tw.secrets {
			val = strings.ReplaceAll(val, s, "<REDACTED>")
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = tw.redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = tw.redact(inner)
		}
		return out
	default:
		return v
	}
}
