package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

type flaky struct {
	retryable bool
}

func (f flaky) Error() string     { return "flaky" }
func (f flaky) IsRetryable() bool { return f.retryable }

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)

	feed := FeedConfig()
	assert.Greater(t, feed.InitialDelay, cfg.InitialDelay)
}

func TestDoIfRetryableWithResult_SuccessAfterRetries(t *testing.T) {
	calls := 0
	got, err := DoIfRetryableWithResult(context.Background(), fastConfig(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection refused")
		}
		return calls, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 3, calls)
}

func TestDoIfRetryableWithResult_MaxRetriesExhausted(t *testing.T) {
	calls := 0
	got, err := DoIfRetryableWithResult(context.Background(), fastConfig(), func() (int, error) {
		calls++
		return calls, fmt.Errorf("attempt %d: %w", calls, flaky{retryable: true})
	})
	assert.ErrorAs(t, err, new(flaky))
	assert.Equal(t, 4, got)
	assert.Equal(t, 4, calls)
}

func TestDoIfRetryableWithResult_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := DoIfRetryableWithResult(ctx, cfg, func() (struct{}, error) {
			calls++
			return struct{}{}, errors.New("connection reset by peer")
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not return after cancellation")
	}
}

func TestDoIfRetryableWithResult_NilConfig(t *testing.T) {
	got, err := DoIfRetryableWithResult(context.Background(), nil, func() (string, error) { return "ok", nil })
	assert.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestDoIfRetryableWithResult_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := DoIfRetryableWithResult(context.Background(), fastConfig(), func() (struct{}, error) {
		calls++
		return struct{}{}, flaky{retryable: false}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoIfRetryableWithResult_RetriesTransientError(t *testing.T) {
	calls := 0
	got, err := DoIfRetryableWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("fetch: %w", flaky{retryable: true})
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestDoIfRetryableWithResult_EscalatesRepeatedErrors(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 10
	cfg.MaxSameErrorType = 3

	calls := 0
	_, err := DoIfRetryableWithResult(context.Background(), cfg, func() (struct{}, error) {
		calls++
		return struct{}{}, errors.New("HTTP 503 service unavailable")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated error")
	assert.Equal(t, 3, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped retryable", fmt.Errorf("x: %w", flaky{retryable: true}), true},
		{"wrapped permanent", fmt.Errorf("x: %w", flaky{retryable: false}), false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"bad request", errors.New("400 bad request"), false},
		{"dns", errors.New("dial tcp: lookup feed: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
