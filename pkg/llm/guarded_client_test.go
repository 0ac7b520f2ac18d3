package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/retry"
)

func noWaitRetry(retries int) *retry.Config {
	return &retry.Config{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestGuardedClient_RetriesTransientErrors(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64, bool) (*GenerateResponseResult, error) {
		if mock.Calls() < 2 {
			return nil, NewError(ErrorTypeRateLimited, "rate limited", true, nil)
		}
		return &GenerateResponseResult{Content: "[]"}, nil
	}
	g := NewGuardedClient(mock, nil, time.Second, zap.NewNop()).WithRetry(noWaitRetry(2))

	res, err := g.GenerateResponse(context.Background(), "p", "s", 0.1, false)

	require.NoError(t, err)
	assert.Equal(t, "[]", res.Content)
	assert.Equal(t, 2, mock.Calls())
	assert.Equal(t, CircuitClosed, g.Breaker().State())
}

func TestGuardedClient_DoesNotRetryPermanentErrors(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64, bool) (*GenerateResponseResult, error) {
		return nil, NewError(ErrorTypeAuth, "authentication failed", false, nil)
	}
	g := NewGuardedClient(mock, nil, 0, zap.NewNop()).WithRetry(noWaitRetry(3))

	_, err := g.GenerateResponse(context.Background(), "p", "s", 0.1, false)

	assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
	assert.Equal(t, 1, mock.Calls())
	assert.Equal(t, 1, g.Breaker().ConsecutiveFailures())
}

func TestGuardedClient_OpenCircuitFailsFast(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64, bool) (*GenerateResponseResult, error) {
		return nil, errors.New("status 503 unavailable")
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Hour})
	g := NewGuardedClient(mock, breaker, 0, zap.NewNop()).WithRetry(noWaitRetry(0))

	for range 2 {
		_, err := g.GenerateResponse(context.Background(), "p", "s", 0, false)
		require.Error(t, err)
	}
	require.Equal(t, CircuitOpen, breaker.State())

	_, err := g.GenerateResponse(context.Background(), "p", "s", 0, false)
	assert.ErrorIs(t, err, apperrors.ErrExtractionUnavailable)
	assert.Equal(t, 2, mock.Calls())
}

func TestGuardedClient_AppliesTimeout(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, _ string, _ string, _ float64, _ bool) (*GenerateResponseResult, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		return &GenerateResponseResult{Content: "{}"}, nil
	}
	g := NewGuardedClient(mock, nil, time.Minute, zap.NewNop())

	_, err := g.GenerateResponse(context.Background(), "p", "s", 0, false)
	require.NoError(t, err)
	assert.Equal(t, "mock-model", g.GetModel())
	assert.Equal(t, "http://mock-endpoint", g.GetEndpoint())
}

func TestGuardedClient_CallerCancellationDoesNotTrip(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, _ string, _ string, _ float64, _ bool) (*GenerateResponseResult, error) {
		return nil, ctx.Err()
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: time.Hour})
	g := NewGuardedClient(mock, breaker, 0, zap.NewNop()).WithRetry(noWaitRetry(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.GenerateResponse(ctx, "p", "s", 0, false)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, breaker.State())
}
