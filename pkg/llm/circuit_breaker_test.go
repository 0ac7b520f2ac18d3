package llm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
)

// newTestBreaker returns a breaker driven by a manual clock.
func newTestBreaker(threshold int, resetAfter time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: threshold, ResetAfter: resetAfter})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := newTestBreaker(5, 30*time.Second)

	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())

	allowed, err := cb.Allow()
	assert.True(t, allowed)
	assert.NoError(t, err)
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	allowed, err := cb.Allow()
	assert.False(t, allowed)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExtractionUnavailable)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, 1, cb.ConsecutiveFailures())
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, 30*time.Second)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)

	allowed, err := cb.Allow()
	assert.True(t, allowed)
	assert.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Only one probe at a time.
	allowed, err = cb.Allow()
	assert.False(t, allowed)
	assert.ErrorIs(t, err, apperrors.ErrExtractionUnavailable)

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(3, 10*time.Second)
	for range 3 {
		cb.RecordFailure()
	}
	*now = now.Add(11 * time.Second)

	allowed, _ := cb.Allow()
	require.True(t, allowed)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	allowed, _ = cb.Allow()
	assert.False(t, allowed)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	cb.RecordFailure()
	cb.Reset()

	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_InvalidConfigUsesDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	def := DefaultCircuitBreakerConfig()

	assert.Equal(t, def.Threshold, cb.threshold)
	assert.Equal(t, def.ResetAfter, cb.resetAfter)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1000, ResetAfter: time.Minute})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cb.Allow()
			if i%2 == 0 {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			_ = cb.State()
		}()
	}
	wg.Wait()

	assert.Equal(t, CircuitClosed, cb.State())
}
