// Package actions holds the helpers shared by external action
// collaborators: a binary-semaphore Gate for singleton resources, gated
// wrappers, and recording dry-run collaborators.
package actions

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/ormasoftchile/stockpipe/pkg/imaging"
)

// Gate serializes access to a resource that must not be used concurrently,
// such as a single browser session or a GPU-bound process.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns a Gate admitting n holders at a time; n < 1 means 1.
func NewGate(n int64) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(n)}
}

// Do runs fn while holding the gate. It returns ctx.Err() if the gate could
// not be acquired before ctx was done.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}

// Cropper is the crop collaborator contract.
type Cropper interface {
	Crop(ctx context.Context, input string, region imaging.Region, output string) (string, error)
}

// Prober is the dimension-probe collaborator contract.
type Prober interface {
	Dimensions(ctx context.Context, path string) (width, height int, err error)
}

// Completer is the chat-completion collaborator contract.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type gatedCropper struct {
	inner Cropper
	gate  *Gate
}

// ExclusiveCropper serializes every Crop call through g.
func ExclusiveCropper(c Cropper, g *Gate) Cropper {
	return &gatedCropper{inner: c, gate: g}
}

func (c *gatedCropper) Crop(ctx context.Context, input string, region imaging.Region, output string) (string, error) {
	var out string
	err := c.gate.Do(ctx, func() error {
		var err error
		out, err = c.inner.Crop(ctx, input, region, output)
		return err
	})
	return out, err
}

type gatedCompleter struct {
	inner Completer
	gate  *Gate
}

// ExclusiveCompleter serializes every Complete call through g.
func ExclusiveCompleter(c Completer, g *Gate) Completer {
	return &gatedCompleter{inner: c, gate: g}
}

func (c *gatedCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var out string
	err := c.gate.Do(ctx, func() error {
		var err error
		out, err = c.inner.Complete(ctx, prompt, maxTokens)
		return err
	})
	return out, err
}
