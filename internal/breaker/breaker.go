// Package breaker implements a CLOSED/OPEN/HALF_OPEN circuit breaker around
// fallible calls.
//
// The breaker protects the orchestrator's bounded time budget from being
// spent retrying a categorically-down dependency: after a run of consecutive
// failures the circuit opens and calls fail fast without invoking the wrapped
// function, until a recovery timeout admits a limited number of half-open
// probes. A single successful probe closes the circuit again.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"conductor/internal/metrics"
	"conductor/pkg/logging"
)

// State is the condition of a circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String makes State satisfy the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// OpenError is returned by Call when the circuit rejects the call without
// invoking the wrapped function. Recoverable: later calls may probe again.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %s is open", e.Name)
}

// IsOpen checks if an error is an OpenError using error unwrapping.
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultHalfOpenMaxCalls = 1
)

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithRecoveryTimeout sets how long an open circuit waits before admitting
// half-open probes.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.recoveryTimeout = d
		}
	}
}

// WithHalfOpenMaxCalls caps the number of in-flight probes while half-open.
func WithHalfOpenMaxCalls(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.halfOpenMaxCalls = n
		}
	}
}

// WithMetrics publishes the breaker state as a gauge under its name.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// WithStateChangeCallback registers fn to be invoked on every state
// transition. fn runs while the breaker lock is held and must not call back
// into the breaker.
func WithStateChangeCallback(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// Breaker wraps a fallible call with circuit protection. One Breaker guards
// one call site; safe for concurrent use.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int
	metrics          *metrics.Metrics
	onStateChange    func(name string, from, to State)

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenCalls       int
	lastTransition      time.Time
}

// New returns a closed Breaker for the given call site name.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: DefaultFailureThreshold,
		recoveryTimeout:  DefaultRecoveryTimeout,
		halfOpenMaxCalls: DefaultHalfOpenMaxCalls,
		state:            StateClosed,
		lastTransition:   time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.SetBreakerState(b.name, float64(b.state))
	return b
}

// Name returns the protected call site name.
func (b *Breaker) Name() string { return b.name }

// State returns the current circuit state, applying the OPEN -> HALF_OPEN
// recovery transition if its timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	return b.state
}

// ConsecutiveFailures returns the current failure run length.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Call executes fn under circuit protection. When the circuit is open, or all
// half-open probe slots are taken, Call fails fast with an OpenError and fn
// is not invoked.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	b.maybeRecoverLocked()

	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return &OpenError{Name: b.name}
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMaxCalls {
			b.mu.Unlock()
			return &OpenError{Name: b.name}
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailureLocked()
		return err
	}
	b.onSuccessLocked()
	return nil
}

func (b *Breaker) maybeRecoverLocked() {
	if b.state == StateOpen && time.Since(b.lastTransition) >= b.recoveryTimeout {
		b.transitionLocked(StateHalfOpen)
		b.halfOpenCalls = 0
	}
}

func (b *Breaker) onSuccessLocked() {
	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		// One successful probe is enough evidence of recovery.
		logging.Info("Breaker", "circuit %s recovered, closing", b.name)
		b.transitionLocked(StateClosed)
		b.halfOpenCalls = 0
	}
}

func (b *Breaker) onFailureLocked() {
	b.consecutiveFailures++
	switch {
	case b.state == StateClosed && b.consecutiveFailures >= b.failureThreshold:
		logging.Warn("Breaker", "circuit %s tripped after %d consecutive failures", b.name, b.consecutiveFailures)
		b.transitionLocked(StateOpen)
	case b.state == StateHalfOpen:
		logging.Warn("Breaker", "circuit %s failed half-open probe, reopening", b.name)
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	b.lastTransition = time.Now()
	b.metrics.SetBreakerState(b.name, float64(to))
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}
