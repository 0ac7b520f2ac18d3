package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client provides access to OpenAI-compatible LLM endpoints.
type Client struct {
	client    *openai.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

// Config holds configuration for creating an LLM client.
type Config struct {
	Endpoint  string // Base URL, e.g., "https://api.openai.com/v1"
	Model     string // Model name, e.g., "gpt-4o"
	APIKey    string // Optional for local endpoints
	MaxTokens int    // Completion budget; 0 leaves it to the provider
}

// NewClient creates a new OpenAI-compatible LLM client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client:    openai.NewClientWithConfig(clientConfig),
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm"),
	}, nil
}

// GenerateResponse generates a chat completion response with usage stats.
// thinking is passed through chat_template_kwargs for vLLM/Qwen style
// servers and ignored by hosted OpenAI models.
func (c *Client) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
	thinking bool,
) (*GenerateResponseResult, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature),
		zap.Bool("thinking", thinking))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(temperature),
		MaxTokens:   c.maxTokens,
		ChatTemplateKwargs: map[string]any{
			"enable_thinking": thinking,
		},
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, c.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewErrorWithContext(ErrorTypeUnknown, "no choices in response", true, nil, c.model, c.endpoint, 0)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResponseResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *Client) GetEndpoint() string {
	return c.endpoint
}

func (c *Client) classify(err error) error {
	llmErr := ClassifyError(err)
	if llmErr.Model == "" {
		llmErr.Model = c.model
	}
	if llmErr.Endpoint == "" {
		llmErr.Endpoint = c.endpoint
	}
	return llmErr
}
