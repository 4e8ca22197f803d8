// Package resilience provides the circuit breaker and retry primitives
// used around external capability calls and the record store connection.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/synapsehealth/guardian/internal/observability"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting it
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the service recovered
)

// halfOpenProbes is how many consecutive successes close a half-open circuit
const halfOpenProbes = 3

// CircuitBreaker guards one external capability. After maxFailures
// consecutive failures it opens; after resetTimeout it lets probe
// requests through.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu           sync.RWMutex
	state        CircuitState
	failures     int
	successes    int
	lastFailTime time.Time
}

// NewCircuitBreaker creates a closed circuit breaker for the named capability
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	observability.UpdateCircuitBreakerState(name, int(StateClosed))
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Call runs fn under breaker protection. An open circuit returns
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(err == nil)
	return err
}

// allow decides whether a request may proceed, transitioning open
// circuits to half-open once the reset timeout elapses
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailTime) >= cb.resetTimeout {
			cb.setStateLocked(StateHalfOpen)
			cb.successes = 0
			return true
		}
		return false

	case StateHalfOpen:
		return true
	}
	return false
}

// record applies the outcome of one request to the breaker state
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= halfOpenProbes {
				cb.setStateLocked(StateClosed)
				cb.failures = 0
			}
		}
		return
	}

	observability.IncrementCircuitBreakerFailures(cb.name)
	cb.lastFailTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe re-opens the circuit
		cb.setStateLocked(StateOpen)
		cb.successes = 0
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) setStateLocked(state CircuitState) {
	cb.state = state
	observability.UpdateCircuitBreakerState(cb.name, int(state))
}
