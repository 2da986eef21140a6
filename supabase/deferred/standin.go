package deferred

import (
	"context"
	"errors"
	"fmt"
)

// StandIn records calls against a backend that may not exist yet. Every
// Call returns a new StandIn; the receiver's chain never changes, so a
// StandIn can be shared and branched freely across goroutines.
type StandIn struct {
	loader *Loader
	chain  Chain
}

// NewStandIn returns a stand-in for the loader's backend itself.
func NewStandIn(l *Loader) StandIn {
	return StandIn{loader: l}
}

// Call records a method call or field access.
func (s StandIn) Call(name string, args ...any) StandIn {
	return StandIn{loader: s.loader, chain: s.chain.Append(NewCallStep(name, args...))}
}

// Get records a field access. It replays exactly like Call with no arguments.
func (s StandIn) Get(name string) StandIn {
	return s.Call(name)
}

// Chain returns the recorded chain.
func (s StandIn) Chain() Chain { return s.chain }

func (s StandIn) String() string { return s.chain.String() }

// Resolve starts a resolution and returns its future. The replay runs to
// completion even if ctx is cancelled.
func (s StandIn) Resolve(ctx context.Context) *Future {
	f := newFuture()
	detached := context.WithoutCancel(ctx)
	go func() {
		var (
			value any
			err   error
		)
		defer func() {
			if r := recover(); r != nil {
				value, err = nil, fmt.Errorf("resolve %s: panic: %v", s.chain, r)
			}
			f.settle(value, err)
		}()
		value, err = s.resolve(detached)
	}()
	return f
}

// Await resolves the chain and waits for the outcome.
func (s StandIn) Await(ctx context.Context) (any, error) {
	return s.Resolve(ctx).Await(ctx)
}

// Then resolves the chain and registers the callbacks on the outcome.
func (s StandIn) Then(onFulfilled func(any), onRejected func(error)) {
	s.Resolve(context.Background()).Then(onFulfilled, onRejected)
}

func (s StandIn) resolve(ctx context.Context) (any, error) {
	if s.loader == nil {
		return nil, errors.New("stand-in has no loader")
	}
	backend, err := s.loader.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return replay(ctx, &s.loader.replayMu, backend, s.chain)
}
