package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/config"
)

// Provider names accepted in llm.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewFromConfig builds the configured provider client wrapped in a
// GuardedClient. It returns apperrors.ErrExtractionUnavailable when no model
// is configured so callers can run without LLM extraction.
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (*GuardedClient, error) {
	if !cfg.IsAvailable() {
		return nil, apperrors.ErrExtractionUnavailable
	}

	clientCfg := &Config{
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	var (
		inner LLMClient
		err   error
	)
	switch cfg.Provider {
	case ProviderAnthropic:
		inner, err = NewAnthropicClient(clientCfg, logger)
	case ProviderOpenAI, "":
		inner, err = NewClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Provider, err)
	}

	logger.Info("LLM extraction enabled",
		zap.String("provider", cfg.Provider),
		zap.String("model", inner.GetModel()),
		zap.String("endpoint", inner.GetEndpoint()))

	return NewGuardedClient(inner, nil, cfg.Timeout, logger), nil
}
