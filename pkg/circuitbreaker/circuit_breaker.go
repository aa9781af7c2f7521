package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// CircuitBreaker trips after maxFailures consecutive counted failures and
// allows a single probe call once timeout has elapsed.
type CircuitBreaker struct {
	name        string
	maxFailures uint32
	timeout     time.Duration

	// counts reports whether an error should move the breaker toward open.
	// Nil counts every error.
	counts func(error) bool
	now    func() time.Time

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	probing         bool
	requests        uint64

	logger logrus.FieldLogger
}

// Option customises a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithFailurePredicate limits which errors count as failures.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.counts = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// New creates a closed circuit breaker
func New(name string, maxFailures uint32, timeout time.Duration, logger logrus.FieldLogger, opts ...Option) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cb := &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
		state:       StateClosed,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn when the breaker admits the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return &CircuitBreakerError{Name: cb.name, State: cb.State()}
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// Allow reports whether a call would currently be admitted, without
// reserving the half-open probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state == StateClosed || (cb.state == StateHalfOpen && !cb.probing)
}

// State returns the current state, moving OPEN to HALF_OPEN once the timeout has passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()

	switch cb.state {
	case StateClosed:
		cb.requests++
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		cb.requests++
		return true
	default:
		return false
	}
}

// advance must be called with mu held.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
		cb.state = StateHalfOpen
		cb.probing = false
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           StateHalfOpen.String(),
		}).Info("Circuit breaker transitioned to half-open")
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	cb.probing = false

	if err == nil || (cb.counts != nil && !cb.counts(err)) {
		if wasProbe {
			cb.logger.WithField("circuit_breaker", cb.name).Info("Circuit breaker closed after successful probe")
		}
		cb.state = StateClosed
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.now()
	if wasProbe || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"failures":        cb.failures,
			"state":           StateOpen.String(),
		}).Warn("Circuit breaker opened due to failures")
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        uint32    `json:"failures"`
	Requests        uint64    `json:"requests"`
	LastFailureTime time.Time `json:"lastFailureTime"`
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()

	return Stats{
		Name:            cb.name,
		State:           cb.state.String(),
		Failures:        cb.failures,
		Requests:        cb.requests,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitBreakerError represents an error when the circuit breaker is open
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

func IsCircuitBreakerError(err error) bool {
	_, ok := err.(*CircuitBreakerError)
	return ok
}
