package llm

import (
	"context"
	"sync"
)

// MockLLMClient is a configurable mock for testing LLM functionality.
// It is safe for concurrent use.
type MockLLMClient struct {
	// GenerateResponseFunc is called when GenerateResponse is invoked.
	// If nil, returns an empty result and nil error.
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Endpoint is returned by GetEndpoint. Defaults to "http://mock-endpoint".
	Endpoint string

	mu      sync.Mutex
	prompts []string
}

// NewMockLLMClient creates a new mock with sensible defaults.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Model:    "mock-model",
		Endpoint: "http://mock-endpoint",
	}
}

// NewStaticMockLLMClient returns a mock that always answers content.
func NewStaticMockLLMClient(content string) *MockLLMClient {
	m := NewMockLLMClient()
	m.GenerateResponseFunc = func(context.Context, string, string, float64, bool) (*GenerateResponseResult, error) {
		return &GenerateResponseResult{Content: content}, nil
	}
	return m
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature, thinking)
	}
	return &GenerateResponseResult{}, nil
}

// Calls returns the number of GenerateResponse invocations.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of the prompts received so far.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetEndpoint implements LLMClient.
func (m *MockLLMClient) GetEndpoint() string {
	if m.Endpoint == "" {
		return "http://mock-endpoint"
	}
	return m.Endpoint
}

// Reset clears recorded calls.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
}
