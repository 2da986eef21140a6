package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Retry Configuration
// =============================================================================

// RetryConfig configures retries of a single HTTP request.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int
	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after every attempt
	BackoffMultiplier float64
	// Jitter randomizes the wait by up to this fraction (0.0 to 1.0)
	Jitter float64
	// RetryableStatusCodes are HTTP status codes worth another attempt
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns the retry settings used by the server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// backoff returns the wait before retry number attempt (1-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	mult := c.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter > 0 {
		d += d * c.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (c RetryConfig) retryableStatus(code int) bool {
	for _, s := range c.RetryableStatusCodes {
		if s == code {
			return true
		}
	}
	return false
}

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig returns the breaker settings used by the server.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("supabase circuit breaker is open")

// CircuitBreaker stops calling Supabase after repeated failures.
type CircuitBreaker struct {
	mu sync.Mutex

	config    CircuitBreakerConfig
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: config, now: time.Now}
}

// Allow returns ErrCircuitOpen while the circuit is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.successes = 0
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case CircuitHalfOpen:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.openedAt = cb.now()
	cb.successes = 0
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// =============================================================================
// Retrying Transport
// =============================================================================

// ResilienceConfig combines retry and breaker settings.
type ResilienceConfig struct {
	Retry   RetryConfig
	Breaker CircuitBreakerConfig
}

// DefaultResilienceConfig returns default retry and breaker settings.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Retry:   DefaultRetryConfig(),
		Breaker: DefaultCircuitBreakerConfig(),
	}
}

// RetryTransport retries failed requests and trips a breaker. Idempotent
// requests are retried on timeouts and retryable status codes; any other
// request is retried only when the connection could not be dialed, so a
// write the server may have applied is never sent twice.
type RetryTransport struct {
	base    http.RoundTripper
	retry   RetryConfig
	breaker *CircuitBreaker

	total   atomic.Int64
	retried atomic.Int64
	failed  atomic.Int64
}

// NewRetryTransport wraps base (http.DefaultTransport when nil).
func NewRetryTransport(base http.RoundTripper, cfg ResilienceConfig) *RetryTransport {
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}
	}
	return &RetryTransport{
		base:    base,
		retry:   cfg.Retry,
		breaker: NewCircuitBreaker(cfg.Breaker),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.total.Add(1)
	if err := t.breaker.Allow(); err != nil {
		t.failed.Add(1)
		return nil, err
	}

	var (
		resp       *http.Response
		err        error
		replayable = idempotent(req)
	)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			t.retried.Add(1)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(t.retry.backoff(attempt)):
			}
			if req, err = rewind(req); err != nil {
				return nil, err
			}
		}

		resp, err = t.base.RoundTrip(req)
		last := attempt >= t.retry.MaxRetries
		if err != nil {
			if !last && retryableError(err, replayable) {
				continue
			}
			t.breaker.RecordFailure()
			t.failed.Add(1)
			return nil, err
		}
		if t.retry.retryableStatus(resp.StatusCode) {
			if !last && replayable {
				resp.Body.Close()
				continue
			}
			t.breaker.RecordFailure()
			t.failed.Add(1)
			return resp, nil
		}

		t.breaker.RecordSuccess()
		return resp, nil
	}
}

// State returns the breaker state.
func (t *RetryTransport) State() CircuitState { return t.breaker.State() }

// Stats returns request counters.
func (t *RetryTransport) Stats() map[string]int64 {
	return map[string]int64{
		"total_requests":   t.total.Load(),
		"retried_requests": t.retried.Load(),
		"failed_requests":  t.failed.Load(),
	}
}

func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

// idempotent follows net/http: safe methods, or any request carrying an
// Idempotency-Key header.
func idempotent(req *http.Request) bool {
	switch req.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	if _, ok := req.Header["Idempotency-Key"]; ok {
		return true
	}
	_, ok := req.Header["X-Idempotency-Key"]
	return ok
}

func retryableError(err error, replayable bool) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	if !replayable {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
