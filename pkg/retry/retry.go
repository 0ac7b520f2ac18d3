package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, fraction of the delay randomised in either direction
	// MaxSameErrorType stops retrying after N consecutive failures of the
	// same kind. Zero disables the check.
	MaxSameErrorType int
}

// DefaultConfig is tuned for database operations: 3 retries starting at
// 100ms, capped at 5s.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// FeedConfig is tuned for remote source fetches, which fail slower and
// recover slower than a local database.
func FeedConfig() *Config {
	return &Config{
		MaxRetries:       2,
		InitialDelay:     500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		Multiplier:       3.0,
		JitterFactor:     0.2,
		MaxSameErrorType: 3,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// wait sleeps for the current backoff and returns the next one, or the
// context error if ctx ends first.
func wait(ctx context.Context, cfg *Config, delay time.Duration) (time.Duration, error) {
	t := time.NewTimer(applyJitter(delay, cfg.JitterFactor))
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return delay, ctx.Err()
	}
	next := time.Duration(float64(delay) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next, nil
}

// DoIfRetryableWithResult runs fn with exponential backoff, retrying only
// transient failures; permanent errors return immediately. The value from the
// last attempt is returned even on failure.
func DoIfRetryableWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result    T
		lastErr   error
		lastKind  string
		sameCount int
	)
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if !IsRetryable(err) {
			return result, err
		}
		kind := errorKind(err)
		if kind == lastKind {
			sameCount++
			if cfg.MaxSameErrorType > 0 && sameCount >= cfg.MaxSameErrorType {
				return result, fmt.Errorf("repeated error (%d times, type=%s): %w", sameCount, kind, err)
			}
		} else {
			lastKind, sameCount = kind, 1
		}

		if attempt < cfg.MaxRetries {
			var werr error
			if delay, werr = wait(ctx, cfg, delay); werr != nil {
				return result, werr
			}
		}
	}

	return result, lastErr
}

// RetryableError is implemented by errors that know whether retrying them
// can help.
type RetryableError interface {
	error
	IsRetryable() bool
}

// Postgres SQLSTATEs worth another attempt.
var retryableSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"network is unreachable",
	"unexpected eof",
	"429",
	"502",
	"503",
	"504",
	"rate limit",
	"too many requests",
	"service unavailable",
	"overloaded",
}

// IsRetryable reports whether err is transient. Errors anywhere in the
// chain that implement RetryableError decide for themselves; cancellation
// is never retried; everything else falls back to message patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLStates[pgErr.Code]
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// errorKind buckets an error so repeated identical failures can be detected.
func errorKind(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "sqlstate_" + pgErr.Code
	}

	msg := strings.ToLower(err.Error())
	for _, code := range []string{"429", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return code
		}
	}
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return "connection"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return "rate_limit"
	}
	return "unknown"
}
