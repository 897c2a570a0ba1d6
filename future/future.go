// Package future provides the asynchronous result type returned by remote
// interface methods.
//
// A Future is completed exactly once, either with a value or with an error.
// Service interfaces declare their methods as returning *Future[T]; the schema
// reflector reports T as the procedure's return type, the server dispatch
// engine awaits the future before replying, and the call proxy hands one back
// to application code for every remote call.
package future

import (
	"context"
	"sync"
)

// Void is the result type of a remote method that produces no value.
type Void struct{}

// Awaitable is implemented by every Future regardless of its type parameter.
// The server dispatch engine uses it to wait for an implementation's result
// without knowing T.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Future holds the eventual outcome of an asynchronous call.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an uncompleted future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v, nil)
	return f
}

// Failed returns a future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	var zero T
	f.Complete(zero, err)
	return f
}

// Go runs fn on its own goroutine and completes the returned future with its
// outcome.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := New[T]()
	go func() {
		f.Complete(fn())
	}()
	return f
}

// Complete sets the outcome of the future. Only the first call has an effect;
// it reports whether this call completed the future.
func (f *Future[T]) Complete(v T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		completed = true
		close(f.done)
	})
	return completed
}

// Done returns a channel that is closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the future completes or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Await is Get with the value boxed, satisfying Awaitable.
func (f *Future[T]) Await(ctx context.Context) (any, error) {
	v, err := f.Get(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}
