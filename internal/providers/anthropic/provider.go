package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// ProviderName is the routing name of this adapter
const ProviderName = "anthropic"

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
)

// AnthropicProvider serves calendar operations through the Messages API
type AnthropicProvider struct {
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
	ops    map[string]providers.OperationFunc
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NewAnthropicProvider creates a new Anthropic provider instance
func NewAnthropicProvider(config *AnthropicConfig, logger *logrus.Logger) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		// retries belong to the router
		option.WithMaxRetries(0),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	client := anthropic.NewClient(opts...)

	p := &AnthropicProvider{
		client: &client,
		config: config,
		logger: logger,
	}
	p.ops = providers.PromptOperations(p.complete)
	return p
}

func (p *AnthropicProvider) Name() string {
	return ProviderName
}

// Operations returns the calendar operations backed by this provider
func (p *AnthropicProvider) Operations() map[string]providers.OperationFunc {
	return p.ops
}

// HealthCheck performs a health check on the Anthropic API
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	// Simple health check using a minimal message
	testReq := anthropic.MessageNewParams{
		Model: anthropic.Model(p.model()),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
		MaxTokens: 1,
	}

	if _, err := p.client.Messages.New(ctx, testReq); err != nil {
		p.logger.WithError(err).Debug("Anthropic health check failed")
		return wrapError(err)
	}
	return nil
}

func (p *AnthropicProvider) model() string {
	if p.config.Model != "" {
		return p.config.Model
	}
	return defaultModel
}

func (p *AnthropicProvider) complete(ctx context.Context, prompt *providers.Prompt) (*providers.Completion, error) {
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model()),
		Messages:  convertMessages(prompt),
		MaxTokens: defaultMaxTokens,
	}
	if p.config.MaxTokens > 0 {
		req.MaxTokens = int64(p.config.MaxTokens)
	}
	if p.config.Temperature > 0 {
		req.Temperature = anthropic.Float(p.config.Temperature)
	}

	system := prompt.System
	if prompt.JSON {
		// Claude has no JSON mode; ask for it in the system prompt
		system += "\n\nRespond with a single JSON object and nothing else."
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return nil, wrapError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	p.logger.WithFields(logrus.Fields{
		"model":         resp.Model,
		"stop_reason":   resp.StopReason,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}).Debug("Anthropic completion received")

	return &providers.Completion{
		Text:  text.String(),
		Model: string(resp.Model),
		Usage: &types.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func convertMessages(prompt *providers.Prompt) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}
	return messages
}

// wrapError attaches status code and Retry-After of API errors
func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr := &providers.ProviderError{Provider: ProviderName, StatusCode: apiErr.StatusCode, Err: err}
		if apiErr.Response != nil {
			perr.RetryAfterHint = providers.ParseRetryAfter(apiErr.Response.Header, time.Now())
		}
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &providers.ProviderError{Provider: ProviderName, Err: fmt.Errorf("request failed: %w", err)}
}

var _ providers.Provider = (*AnthropicProvider)(nil)
