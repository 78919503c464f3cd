package mux

import (
	"context"
	"sync"
)

// Producer runs a stream's body. It reports progress through emit, which
// returns an error once the stream is cancelled; the producer should then
// return promptly so its deferred cleanup runs.
type Producer[T, R any] func(ctx context.Context, emit func(T) error) (R, error)

type funcStream[T, R any] struct {
	label string
	fn    Producer[T, R]

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	values   chan T
	finished chan struct{}
	result   R
	err      error
}

// FromFunc adapts a producer into a Stream. The producer starts on the first
// call to Next and runs in its own goroutine; Cancel cancels its context.
func FromFunc[T, R any](label string, fn Producer[T, R]) Stream[T, R] {
	ctx, cancel := context.WithCancel(context.Background())
	return &funcStream[T, R]{
		label:    label,
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
		values:   make(chan T),
		finished: make(chan struct{}),
	}
}

func (s *funcStream[T, R]) Label() string { return s.label }

func (s *funcStream[T, R]) start() {
	s.once.Do(func() {
		go func() {
			defer close(s.finished)
			s.result, s.err = s.fn(s.ctx, s.emit)
		}()
	})
}

func (s *funcStream[T, R]) emit(v T) error {
	select {
	case s.values <- v:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *funcStream[T, R]) Next(ctx context.Context) (Item[T, R], error) {
	s.start()
	select {
	case v := <-s.values:
		return Item[T, R]{Value: v}, nil
	case <-s.finished:
		if s.err != nil {
			return Item[T, R]{}, s.err
		}
		return Item[T, R]{Result: s.result, Done: true}, nil
	case <-ctx.Done():
		return Item[T, R]{}, ctx.Err()
	}
}

func (s *funcStream[T, R]) Cancel() { s.cancel() }
