package deferred

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnresolved is returned when an Output is awaited but its value never
// became available, either because it has no source or because the context
// ended first.
var ErrUnresolved = errors.New("deferred: value not resolved")

// Resolvable is the type-erased view of an Output. The engine uses it to find
// and resolve outputs nested inside a resource's property bag.
type Resolvable interface {
	AwaitAny(ctx context.Context) (any, error)
	PeekAny() (any, bool)
}

// Output is a value that becomes known at some later point, typically once the
// resource that owns it has been realised. Outputs are immutable; Map derives a
// new Output without blocking.
type Output[T any] struct {
	await func(ctx context.Context) (T, error)
	peek  func() (T, bool)
}

// Known returns an Output that is already resolved to v.
func Known[T any](v T) Output[T] {
	return Output[T]{
		await: func(context.Context) (T, error) { return v, nil },
		peek:  func() (T, bool) { return v, true },
	}
}

// Failed returns an Output that is already rejected with err.
func Failed[T any](err error) Output[T] {
	return Output[T]{
		await: func(context.Context) (T, error) {
			var zero T
			return zero, err
		},
		peek: func() (T, bool) {
			var zero T
			return zero, false
		},
	}
}

// IsZero reports whether the Output has no source at all.
func (o Output[T]) IsZero() bool {
	return o.await == nil
}

// Await blocks until the value is known, rejected, or ctx is done.
func (o Output[T]) Await(ctx context.Context) (T, error) {
	if o.await == nil {
		var zero T
		return zero, ErrUnresolved
	}
	return o.await(ctx)
}

// Peek returns the value if it is already known, without blocking.
func (o Output[T]) Peek() (T, bool) {
	if o.peek == nil {
		var zero T
		return zero, false
	}
	return o.peek()
}

// AwaitAny implements Resolvable.
func (o Output[T]) AwaitAny(ctx context.Context) (any, error) {
	return o.Await(ctx)
}

// PeekAny implements Resolvable.
func (o Output[T]) PeekAny() (any, bool) {
	return o.Peek()
}

// Map derives an Output by applying fn to o's value once it is known.
// fn must be pure; it may run more than once.
func Map[T, U any](o Output[T], fn func(T) U) Output[U] {
	return Output[U]{
		await: func(ctx context.Context) (U, error) {
			v, err := o.Await(ctx)
			if err != nil {
				var zero U
				return zero, err
			}
			return fn(v), nil
		},
		peek: func() (U, bool) {
			v, ok := o.Peek()
			if !ok {
				var zero U
				return zero, false
			}
			return fn(v), true
		},
	}
}

// Promise is the write side of an Output. It can be settled exactly once;
// later calls to Resolve or Reject are ignored.
type Promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewPromise creates an unsettled Promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve settles the promise with v.
func (p *Promise[T]) Resolve(v T) {
	p.once.Do(func() {
		p.value = v
		close(p.done)
	})
}

// Reject settles the promise with err.
func (p *Promise[T]) Reject(err error) {
	if err == nil {
		err = ErrUnresolved
	}
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Settled reports whether Resolve or Reject has been called.
func (p *Promise[T]) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Output returns the read side of the promise.
func (p *Promise[T]) Output() Output[T] {
	return Output[T]{
		await: func(ctx context.Context) (T, error) {
			select {
			case <-p.done:
				return p.value, p.err
			case <-ctx.Done():
				var zero T
				return zero, fmt.Errorf("%w: %w", ErrUnresolved, ctx.Err())
			}
		},
		peek: func() (T, bool) {
			select {
			case <-p.done:
				if p.err != nil {
					var zero T
					return zero, false
				}
				return p.value, true
			default:
				var zero T
				return zero, false
			}
		},
	}
}
