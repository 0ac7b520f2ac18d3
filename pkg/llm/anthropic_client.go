package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const (
	defaultAnthropicEndpoint  = "https://api.anthropic.com/v1"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicClient provides access to the Anthropic Messages API.
type AnthropicClient struct {
	client    *anthropic.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicClient creates a Messages API client. Endpoint is optional.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	var opts []anthropic.ClientOption
	if endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(endpoint))
	} else {
		endpoint = defaultAnthropicEndpoint
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		endpoint:  endpoint,
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger.Named("llm-anthropic"),
	}, nil
}

// GenerateResponse sends prompt as a single user message. thinking is not
// forwarded; extended thinking would change the response block layout.
func (c *AnthropicClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
	thinking bool,
) (*GenerateResponseResult, error) {
	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature))

	start := time.Now()
	temp := float32(temperature)

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemMessage,
		MaxTokens:   c.maxTokens,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		llmErr := ClassifyError(err)
		llmErr.Model = c.model
		llmErr.Endpoint = c.endpoint
		return nil, llmErr
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			content.WriteString(*block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, NewErrorWithContext(ErrorTypeUnknown, "no text content in response", true, nil, c.model, c.endpoint, 0)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResponseResult{
		Content:          content.String(),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *AnthropicClient) GetEndpoint() string {
	return c.endpoint
}
