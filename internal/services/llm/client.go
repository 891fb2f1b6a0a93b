package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/services"
)

const (
	stage = "llm"

	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// completer issues one model call and returns the text payload. Swapped in
// tests so no network traffic occurs.
type completer func(systemPrompt, userPrompt, schema string) (string, error)

// Client runs the pipeline's LLM operations.
type Client struct {
	complete completer

	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	sleeper        func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithCompleter replaces the model call. Tests use this to script responses.
func WithCompleter(complete completer) Option {
	return func(c *Client) {
		if complete != nil {
			c.complete = complete
		}
	}
}

// WithRetryAttempts overrides the retry budget per operation.
func WithRetryAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient builds a Client from configuration. The API key falls back to
// ANTHROPIC_API_KEY when the config leaves it empty.
func NewClient(cfg config.LLM, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}

	client := &Client{
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
	}
	if cfg.RetryAttempts > 0 {
		client.retryAttempts = cfg.RetryAttempts
	}

	for _, opt := range opts {
		opt(client)
	}

	// A scripted completer does not need credentials; the real one does.
	if client.complete == nil {
		if apiKey == "" {
			return nil, services.Wrap(services.ErrConfiguration, stage, "new client",
				"no API key configured and ANTHROPIC_API_KEY is unset", nil)
		}
		settings := types.RequestSettings{
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}
		client.complete = func(systemPrompt, userPrompt, schema string) (string, error) {
			response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, schema, apiKey, settings)
			if err != nil {
				return "", err
			}
			if len(response.Content) == 0 {
				return "", errors.New("empty response content")
			}
			return response.Content[0].Text, nil
		}
	}
	return client, nil
}

// completeDecoded runs one operation with retries: call the model, decode the
// JSON payload into target, and back off between failed attempts.
func (c *Client) completeDecoded(ctx context.Context, op, systemPrompt, userPrompt, schema string, target any) error {
	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		content, err := c.complete(systemPrompt, userPrompt, schema)
		if err == nil {
			if target == nil {
				return nil
			}
			err = DecodeLLMJSON(content, target)
			if err == nil {
				return nil
			}
			err = fmt.Errorf("decode payload: %w", err)
		}
		lastErr = err

		if attempt == c.retryAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
			return err
		}
	}
	return services.Wrap(services.ErrExternalTool, stage, op,
		fmt.Sprintf("failed after %d attempts", c.retryAttempts), lastErr)
}

// completeText is completeDecoded for operations returning free-form text.
func (c *Client) completeText(ctx context.Context, op, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		content, err := c.complete(systemPrompt, userPrompt, "")
		if err == nil {
			content = strings.TrimSpace(content)
			if content != "" {
				return content, nil
			}
			err = errors.New("empty payload")
		}
		lastErr = err

		if attempt == c.retryAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
			return "", err
		}
	}
	return "", services.Wrap(services.ErrExternalTool, stage, op,
		fmt.Sprintf("failed after %d attempts", c.retryAttempts), lastErr)
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}

	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
