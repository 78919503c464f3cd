// Package mux merges several concurrently running status streams into one
// feed. Values are delivered in the order producers make them available;
// each stream's terminal result is collected but never delivered as a value.
package mux

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/ormasoftchile/stockpipe/pkg/logging"
)

// Item is one step of a Stream. When Done is set, Value is meaningless and
// Result holds the stream's terminal value.
type Item[T, R any] struct {
	Value  T
	Result R
	Done   bool
}

// Stream is a pull-based sequence of T ending in a result R.
//
// Next blocks until a value, the terminal item or an error is available,
// and must return promptly once ctx is done. Cancel asks the producer to
// stop and release its resources; it must not block.
type Stream[T, R any] interface {
	Label() string
	Next(ctx context.Context) (Item[T, R], error)
	Cancel()
}

// SourceError is an error returned by one of the combined streams.
type SourceError struct {
	Label string
	Index int
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Label, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Combined is the fan-in of a fixed set of streams.
type Combined[T, R any] struct {
	sources []Stream[T, R]

	mu       sync.Mutex
	results  []R
	finished []bool
}

// Combine returns the fan-in of sources.
func Combine[T, R any](sources ...Stream[T, R]) *Combined[T, R] {
	return &Combined[T, R]{
		sources:  sources,
		results:  make([]R, len(sources)),
		finished: make([]bool, len(sources)),
	}
}

// Results returns each source's terminal value by index. Sources that did
// not complete hold the zero value.
func (c *Combined[T, R]) Results() []R {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]R(nil), c.results...)
}

// Finished reports which sources completed.
func (c *Combined[T, R]) Finished() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.finished...)
}

type pulled[T, R any] struct {
	index int
	item  Item[T, R]
	err   error
}

// All yields every non-terminal value of every source exactly once, in
// whichever order the sources produce them, and stops when all sources are
// done. A source error or cancellation of ctx is yielded once as the error
// and ends the sequence.
//
// Whenever the sequence ends before every source is done (the consumer
// breaks, ctx is cancelled or a source fails), Cancel is called exactly
// once on each source that has not completed, without waiting for it.
func (c *Combined[T, R]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		logger := logging.FromContext(ctx)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		out := make(chan pulled[T, R])
		pull := func(i int) {
			go func() {
				item, err := c.sources[i].Next(ctx)
				select {
				case out <- pulled[T, R]{index: i, item: item, err: err}:
				case <-ctx.Done():
				}
			}()
		}

		// done tracks completion locally; failed sources count as done
		// but are not reported as finished.
		done := make([]bool, len(c.sources))
		defer func() {
			for i, s := range c.sources {
				if !done[i] {
					logger.Debug("cancelling source", "source", s.Label())
					s.Cancel()
				}
			}
		}()

		active := len(c.sources)
		for i := range c.sources {
			pull(i)
		}

		var zero T
		for active > 0 {
			select {
			case <-ctx.Done():
				yield(zero, ctx.Err())
				return
			case p := <-out:
				src := c.sources[p.index]
				if p.err != nil {
					done[p.index] = true
					yield(zero, &SourceError{Label: src.Label(), Index: p.index, Err: p.err})
					return
				}
				if p.item.Done {
					done[p.index] = true
					active--
					c.mu.Lock()
					c.results[p.index] = p.item.Result
					c.finished[p.index] = true
					c.mu.Unlock()
					logger.Debug("source complete", "source", src.Label(), "active", active)
					continue
				}
				if !yield(p.item.Value, nil) {
					return
				}
				pull(p.index)
			}
		}
	}
}
