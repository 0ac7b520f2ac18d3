package llm

import (
	"fmt"
	"sync"
	"time"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks requests after repeated failures.
	CircuitOpen
	// CircuitHalfOpen lets a single probe request through.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
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

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before a probe is allowed.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig trips after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker stops calling an extraction backend that keeps failing.
// Rejections wrap apperrors.ErrExtractionUnavailable.
type CircuitBreaker struct {
	mu               sync.Mutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.Threshold < 1 {
		config.Threshold = def.Threshold
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = def.ResetAfter
	}
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
		now:        time.Now,
	}
}

// Allow reports whether a request may proceed. An open circuit becomes
// half-open once ResetAfter has elapsed and admits exactly one probe.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		since := cb.now().Sub(cb.lastFailure)
		if since > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, fmt.Errorf("circuit breaker open after %d failures, last %v ago: %w",
			cb.consecutiveFails, since.Round(time.Second), apperrors.ErrExtractionUnavailable)
	case CircuitHalfOpen:
		return false, fmt.Errorf("circuit breaker half-open, probe in flight: %w", apperrors.ErrExtractionUnavailable)
	default:
		return false, fmt.Errorf("circuit breaker in unknown state %v: %w", cb.state, apperrors.ErrExtractionUnavailable)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and trips the circuit at the threshold.
// A failed half-open probe reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}
