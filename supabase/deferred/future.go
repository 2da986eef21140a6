package deferred

import (
	"context"
	"fmt"
)

// Awaitable is anything that can be resolved to a value. Stand-ins, futures
// and the real client's query builders all implement it.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Future is the result of a single resolution. It settles exactly once.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the future settles or ctx is done. Returning early on
// ctx does not stop the underlying replay.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then registers callbacks invoked on a separate goroutine once the future
// settles. Either callback may be nil.
func (f *Future) Then(onFulfilled func(any), onRejected func(error)) {
	go func() {
		<-f.done
		if f.err != nil {
			if onRejected != nil {
				onRejected(f.err)
			}
			return
		}
		if onFulfilled != nil {
			onFulfilled(f.value)
		}
	}()
}

// AwaitAs awaits a and asserts the value to T. A nil value yields T's zero value.
func AwaitAs[T any](ctx context.Context, a Awaitable) (T, error) {
	var zero T
	v, err := a.Await(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type: expected %T, got %T", zero, v)
	}
	return typed, nil
}
