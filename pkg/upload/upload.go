// Package upload defines the upload collaborator contract, a local
// drop-folder uploader, and adapters that turn uploads into status streams
// for the multiplexer.
package upload

import (
	"context"
	"time"

	"github.com/ormasoftchile/stockpipe/pkg/actions"
	"github.com/ormasoftchile/stockpipe/pkg/mux"
	"github.com/ormasoftchile/stockpipe/pkg/trace"
)

// Stages reported through Status.
const (
	StagePreparing = "preparing"
	StageCopying   = "copying"
	StageMetadata  = "metadata"
	StageDone      = "done"
	StageFailed    = "failed"
)

// Request describes one file to publish.
type Request struct {
	File        string            `json:"file"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Status is one progress report from an uploader.
type Status struct {
	Target   string  `json:"target"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"` // 0..1
	Message  string  `json:"message,omitempty"`
}

// Event converts s into an upload trace event.
func (s Status) Event(runID string) trace.Event {
	data := map[string]any{
		"target":   s.Target,
		"stage":    s.Stage,
		"progress": s.Progress,
	}
	if s.Message != "" {
		data["message"] = s.Message
	}
	return trace.NewEvent(trace.EventUpload, runID, data)
}

// Receipt is the terminal result of a successful upload.
type Receipt struct {
	Target    string    `json:"target"`
	Location  string    `json:"location"`
	Bytes     int64     `json:"bytes"`
	Completed time.Time `json:"completed"`
}

// Uploader publishes a file to one target, reporting progress as it goes.
// Implementations own any retry policy and must honour ctx.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, req Request, report func(Status)) (Receipt, error)
}

type exclusive struct {
	inner Uploader
	gate  *actions.Gate
}

// Exclusive serializes all uploads through g, for targets backed by a
// single session.
func Exclusive(u Uploader, g *actions.Gate) Uploader {
	return &exclusive{inner: u, gate: g}
}

func (e *exclusive) Name() string { return e.inner.Name() }

func (e *exclusive) Upload(ctx context.Context, req Request, report func(Status)) (Receipt, error) {
	var receipt Receipt
	report(Status{Target: e.inner.Name(), Stage: StagePreparing, Message: "waiting for session"})
	err := e.gate.Do(ctx, func() error {
		var err error
		receipt, err = e.inner.Upload(ctx, req, report)
		return err
	})
	return receipt, err
}

// Stream runs u.Upload as a multiplexer source. Cancelling the stream
// cancels the upload's context. A failed upload reports a final failed
// status before its error surfaces.
func Stream(u Uploader, req Request) mux.Stream[Status, Receipt] {
	return mux.FromFunc(u.Name(), func(ctx context.Context, emit func(Status) error) (Receipt, error) {
		receipt, err := u.Upload(ctx, req, func(s Status) { _ = emit(s) })
		if err != nil && ctx.Err() == nil {
			_ = emit(Status{Target: u.Name(), Stage: StageFailed, Message: err.Error()})
		}
		return receipt, err
	})
}

// Streams builds one stream per uploader for the same request.
func Streams(req Request, uploaders ...Uploader) []mux.Stream[Status, Receipt] {
	out := make([]mux.Stream[Status, Receipt], len(uploaders))
	for i, u := range uploaders {
		out[i] = Stream(u, req)
	}
	return out
}
