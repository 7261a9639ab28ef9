// Package llm wraps the reasoning model behind a single Call surface with
// bounded retry. Agents never talk to a model SDK directly.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/tradecrew-ai/tradecrew/internal/config"
)

// Provider is the reasoning call surface consumed by agents.
type Provider interface {
	Call(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Client adapts an eino chat model with retry/backoff.
type Client struct {
	model      model.BaseChatModel
	maxRetries int
	backoff    time.Duration
}

// New builds the chat model for the configured provider.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	var (
		m   model.BaseChatModel
		err error
	)

	switch cfg.LLMProvider {
	case "deepseek":
		m, err = deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
			BaseURL: cfg.LLMBaseURL,
		})
	default:
		maxTokens := cfg.LLMMaxTokens
		m, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.LLMBaseURL,
			APIKey:    cfg.LLMAPIKey,
			Model:     cfg.LLMModel,
			MaxTokens: &maxTokens,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s chat model: %w", cfg.LLMProvider, err)
	}

	return &Client{model: m, maxRetries: 3, backoff: time.Second}, nil
}

// NewWithModel wraps an existing chat model, for tests.
func NewWithModel(m model.BaseChatModel) *Client {
	return &Client{model: m, maxRetries: 3, backoff: 10 * time.Millisecond}
}

// Call runs one reasoning request. Transient failures are retried with
// exponential backoff; the final error surfaces as a single classified
// message string to the caller.
func (c *Client) Call(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	}

	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay *= 2
		}

		out, err := c.model.Generate(ctx, messages)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}
		if out == nil || strings.TrimSpace(out.Content) == "" {
			lastErr = fmt.Errorf("model returned empty completion")
			continue
		}
		return out.Content, nil
	}
	return "", fmt.Errorf("llm call failed: %w", lastErr)
}

// retryable spots transient provider failures worth another attempt.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"rate limit", "429", "timeout", "temporarily", "connection reset", "502", "503"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
