package deferred

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Config holds the connection settings read by the loader on every load attempt.
type Config struct {
	URL    string
	APIKey string
}

// Constructor builds the real backend. It runs at most once at a time per Loader.
type Constructor func(ctx context.Context, cfg Config) (any, error)

// FailurePolicy decides what a failed construction leaves behind.
type FailurePolicy int

const (
	// RetryAlways forgets a failed construction; the next Acquire starts over.
	RetryAlways FailurePolicy = iota
	// CacheFailures keeps the first construction error and returns it from
	// every later Acquire until Reset.
	CacheFailures
)

func (p FailurePolicy) String() string {
	switch p {
	case RetryAlways:
		return "retry-always"
	case CacheFailures:
		return "cache-failures"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy parses the names returned by FailurePolicy.String.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "retry-always", "retry":
		return RetryAlways, nil
	case "cache-failures", "cache":
		return CacheFailures, nil
	default:
		return RetryAlways, errors.New("unknown loader failure policy: " + s)
	}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFailurePolicy sets the failure policy. The default is RetryAlways.
func WithFailurePolicy(p FailurePolicy) LoaderOption {
	return func(l *Loader) { l.policy = p }
}

const loadKey = "backend"

// Loader owns the single construction of the real backend. Successful
// results are cached for the lifetime of the Loader and concurrent callers
// share one in-flight construction.
type Loader struct {
	cfg       Config
	construct Constructor
	policy    FailurePolicy

	mu      sync.RWMutex
	handle  any
	loaded  bool
	failure error

	group singleflight.Group

	// replayMu serializes the synchronous steps of chains resolved on
	// this loader.
	replayMu sync.Mutex
}

// NewLoader creates a loader. Nothing is constructed until the first Acquire.
func NewLoader(cfg Config, construct Constructor, opts ...LoaderOption) *Loader {
	l := &Loader{
		cfg:       cfg,
		construct: construct,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the loader's failure policy.
func (l *Loader) Policy() FailurePolicy { return l.policy }

// Loaded reports whether a backend has been constructed.
func (l *Loader) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Reset drops the cached backend and any cached failure.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handle = nil
	l.loaded = false
	l.failure = nil
}

// Acquire returns the backend, constructing it if needed. ctx bounds only
// the caller's wait; an in-flight construction always runs to completion.
func (l *Loader) Acquire(ctx context.Context) (any, error) {
	if h, ok := l.cachedHandle(); ok {
		return h, nil
	}
	if strings.TrimSpace(l.cfg.URL) == "" {
		return nil, ErrConfigurationMissing
	}
	if err := l.cachedFailure(); err != nil {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(loadKey, func() (any, error) {
		if h, ok := l.cachedHandle(); ok {
			return h, nil
		}
		if err := l.cachedFailure(); err != nil {
			return nil, err
		}
		return l.load(detached)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context) (any, error) {
	h, err := l.safeConstruct(ctx)
	if err == nil && h == nil {
		err = errors.New("constructor returned no backend")
	}
	if err != nil {
		cerr := &ConstructionError{Err: err}
		if l.policy == CacheFailures {
			l.mu.Lock()
			l.failure = cerr
			l.mu.Unlock()
		}
		return nil, cerr
	}

	l.mu.Lock()
	l.handle = h
	l.loaded = true
	l.mu.Unlock()
	return h, nil
}

// safeConstruct turns a constructor panic into an error; singleflight would
// otherwise re-panic on a goroutine nobody can recover.
func (l *Loader) safeConstruct(ctx context.Context) (h any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("constructor panic: %v", r)
		}
	}()
	return l.construct(ctx, l.cfg)
}

func (l *Loader) cachedHandle() (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handle, l.loaded
}

func (l *Loader) cachedFailure() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failure
}
