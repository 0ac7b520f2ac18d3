package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/retry"
)

// GuardedClient bounds every call with a timeout, retries transient provider
// errors and fails fast through a circuit breaker once the provider is down.
type GuardedClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	timeout time.Duration
	retry   *retry.Config
	logger  *zap.Logger
}

// NewGuardedClient wraps inner. A nil breaker gets the default configuration;
// a zero timeout leaves calls bounded only by the caller's context.
func NewGuardedClient(inner LLMClient, breaker *CircuitBreaker, timeout time.Duration, logger *zap.Logger) *GuardedClient {
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	return &GuardedClient{
		inner:   inner,
		breaker: breaker,
		timeout: timeout,
		retry: &retry.Config{
			MaxRetries:       2,
			InitialDelay:     time.Second,
			MaxDelay:         10 * time.Second,
			Multiplier:       2.0,
			JitterFactor:     0.2,
			MaxSameErrorType: 2,
		},
		logger: logger.Named("llm-guard"),
	}
}

// WithRetry replaces the retry policy. Used by tests to avoid backoff sleeps.
func (g *GuardedClient) WithRetry(cfg *retry.Config) *GuardedClient {
	g.retry = cfg
	return g
}

// Breaker exposes the circuit breaker for health reporting.
func (g *GuardedClient) Breaker() *CircuitBreaker {
	return g.breaker
}

// GenerateResponse implements LLMClient.
func (g *GuardedClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error) {
	if ok, err := g.breaker.Allow(); !ok {
		return nil, err
	}

	result, err := retry.DoIfRetryableWithResult(ctx, g.retry, func() (*GenerateResponseResult, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return g.inner.GenerateResponse(callCtx, prompt, systemMessage, temperature, thinking)
	})
	if err != nil {
		// A caller giving up says nothing about provider health.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, err
		}
		g.breaker.RecordFailure()
		g.logger.Warn("LLM call failed",
			zap.String("model", g.inner.GetModel()),
			zap.String("circuit", g.breaker.State().String()),
			zap.Error(err))
		return nil, err
	}

	g.breaker.RecordSuccess()
	return result, nil
}

// GetModel implements LLMClient.
func (g *GuardedClient) GetModel() string {
	return g.inner.GetModel()
}

// GetEndpoint implements LLMClient.
func (g *GuardedClient) GetEndpoint() string {
	return g.inner.GetEndpoint()
}
