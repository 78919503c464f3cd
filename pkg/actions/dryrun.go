package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/ormasoftchile/stockpipe/pkg/fsys"
	"github.com/ormasoftchile/stockpipe/pkg/imaging"
)

// Call records one collaborator invocation.
type Call struct {
	Action string         `json:"action"` // crop, probe, chat, write
	Input  string         `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
	Region imaging.Region `json:"region,omitempty"`
	Prompt string         `json:"prompt,omitempty"`
	Tokens int            `json:"maxTokens,omitempty"`
}

// DryRun implements Cropper, Prober and Completer without touching images
// or the network. It records every call in order.
type DryRun struct {
	Width, Height int    // reported by Dimensions
	Reply         string // returned by Complete; "" means a generated placeholder

	mu    sync.Mutex
	calls []Call
}

// NewDryRun returns a DryRun reporting 1000×1000 images.
func NewDryRun() *DryRun {
	return &DryRun{Width: 1000, Height: 1000}
}

func (d *DryRun) record(c Call) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (d *DryRun) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

func (d *DryRun) Dimensions(ctx context.Context, path string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	d.record(Call{Action: "probe", Input: path})
	return d.Width, d.Height, nil
}

func (d *DryRun) Crop(ctx context.Context, input string, region imaging.Region, output string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.record(Call{Action: "crop", Input: input, Region: region, Output: output})
	return output, nil
}

func (d *DryRun) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.record(Call{Action: "chat", Prompt: prompt, Tokens: maxTokens})
	if d.Reply != "" {
		return d.Reply, nil
	}
	return fmt.Sprintf("[dry-run reply, %d tokens]", maxTokens), nil
}

// DryRunFS reads through to Base but keeps writes in memory, so later
// reads of a written path see the written bytes. Writes are recorded on
// Log when set.
type DryRunFS struct {
	Base fsys.FS
	Log  *DryRun

	mu      sync.Mutex
	written map[string][]byte
}

// NewDryRunFS returns a DryRunFS over the host filesystem.
func NewDryRunFS(log *DryRun) *DryRunFS {
	return &DryRunFS{Base: fsys.OS{}, Log: log}
}

func (f *DryRunFS) ReadDir(dir string) ([]string, error) {
	return f.Base.ReadDir(dir)
}

func (f *DryRunFS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	data, ok := f.written[path]
	f.mu.Unlock()
	if ok {
		return append([]byte(nil), data...), nil
	}
	return f.Base.ReadFile(path)
}

func (f *DryRunFS) WriteFile(path string, data []byte) error {
	f.mu.Lock()
	if f.written == nil {
		f.written = map[string][]byte{}
	}
	f.written[path] = append([]byte(nil), data...)
	f.mu.Unlock()
	if f.Log != nil {
		f.Log.record(Call{Action: "write", Output: path})
	}
	return nil
}

func (f *DryRunFS) MkdirAll(string) error { return nil }

// Written returns the bytes written to path, if any.
func (f *DryRunFS) Written(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.written[path]
	return data, ok
}
