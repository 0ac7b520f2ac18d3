// Package llm provides the language-model clients used for structured
// extraction of incidents and entities.
package llm

import (
	"context"
)

// GenerateResponseResult is the text of a completion plus its token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient defines the interface for LLM operations.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse generates a single completion for prompt.
	// thinking toggles chain-of-thought on providers that support it.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*GuardedClient)(nil)
	_ LLMClient = (*MockLLMClient)(nil)
)
