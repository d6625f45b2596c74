// Package notify pushes task lifecycle events to an external real-time
// channel. Every outbound delivery passes through a circuit breaker so a
// degraded channel degrades notifications only; task processing never
// blocks or fails because a push could not be delivered.
package notify

import (
	"sync"
	"time"
)

// CircuitState is the current mode of the breaker.
type CircuitState string

// Circuit breaker states.
const (
	// CircuitClosed: calls pass through; failures are counted.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen: calls fail fast without attempting delivery until the
	// cooldown window has elapsed.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen: a limited number of probe calls are allowed; success
	// returns the breaker to closed, any failure reopens it.
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerConfig holds the circuit breaker tunables.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int

	// OpenDuration is the cooldown before half-open probes are allowed.
	OpenDuration time.Duration

	// HalfOpenSuccesses is how many consecutive probe successes close the
	// circuit again. It also bounds how many probes may be in flight.
	HalfOpenSuccesses int
}

// DefaultBreakerConfig returns a BreakerConfig with reasonable defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		OpenDuration:      30 * time.Second,
		HalfOpenSuccesses: 1,
	}
}

// CircuitBreaker is a process-wide three-state breaker guarding one
// notification channel. It is safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	config BreakerConfig

	state       CircuitState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	openedAt    time.Time
}

// NewCircuitBreaker creates a breaker in the closed state. Zero-valued
// config fields fall back to the defaults.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	defaults := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = defaults.OpenDuration
	}
	if config.HalfOpenSuccesses <= 0 {
		config.HalfOpenSuccesses = defaults.HalfOpenSuccesses
	}

	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
	}
}

// Allow reports whether a delivery attempt may proceed right now. While
// open, it flips to half-open once the cooldown has elapsed and then admits
// a bounded number of probes.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(b.openedAt) < b.config.OpenDuration {
			return false
		}
		b.state = CircuitHalfOpen
		b.successes = 0
		b.probes = 1
		return true

	case CircuitHalfOpen:
		if b.probes >= b.config.HalfOpenSuccesses {
			return false
		}
		b.probes++
		return true

	default:
		return false
	}
}

// RecordSuccess notes a successful delivery. Enough consecutive successes
// while half-open close the circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = 0

	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.HalfOpenSuccesses {
			b.state = CircuitClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure notes a failed delivery. Reaching the threshold while
// closed, or any failure while half-open, opens the circuit.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now().UTC()

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.open()
		}

	case CircuitHalfOpen:
		b.open()
	}
}

// open transitions to the open state. Callers must hold b.mu.
func (b *CircuitBreaker) open() {
	b.state = CircuitOpen
	b.openedAt = time.Now().UTC()
	b.successes = 0
	b.probes = 0
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastFailure returns when the most recent delivery failure occurred, zero
// if none has.
func (b *CircuitBreaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

// Reset returns the breaker to closed with all counters cleared. Exposed as
// a manual operational override.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = CircuitClosed
	b.failures = 0
	b.successes = 0
	b.probes = 0
	b.lastFailure = time.Time{}
	b.openedAt = time.Time{}
}
