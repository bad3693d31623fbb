// Package ai turns natural-language requests into cloud CLI commands and
// turns command output back into prose, via a configurable LLM provider.
package ai

import (
	"context"
	"time"

	"github.com/cloudnav-ai/cloudnav/pkg/ai/providers"
	"github.com/cloudnav-ai/cloudnav/pkg/config"
)

// Client wraps a provider with retry and a per-call deadline.
type Client struct {
	provider    providers.Provider
	callTimeout time.Duration
}

// NewClient builds a client from the LLM configuration.
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	p, err := providers.GetFactory().Create(&providers.ProviderConfig{
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		Endpoint:      cfg.Endpoint,
		APIKey:        cfg.APIKey,
		SkipTLSVerify: cfg.SkipTLSVerify,
	})
	if err != nil {
		return nil, err
	}

	if cfg.RetryEnabled {
		p = providers.CreateWithRetry(p, &providers.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			MaxBackoff:  time.Duration(cfg.MaxBackoff * float64(time.Second)),
			Jitter:      0.1,
		})
	}

	timeout := time.Duration(cfg.CallTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{provider: p, callTimeout: timeout}, nil
}

// NewClientWithProvider wires in an existing provider. Used by tests.
func NewClientWithProvider(p providers.Provider, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Client{provider: p, callTimeout: callTimeout}
}

func (c *Client) IsReady() bool       { return c.provider.IsReady() }
func (c *Client) GetModel() string    { return c.provider.GetModel() }
func (c *Client) GetProvider() string { return c.provider.Name() }

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// Chat runs one completion under the per-call deadline.
func (c *Client) Chat(ctx context.Context, system string, turns []providers.Turn) (string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.provider.Chat(ctx, system, turns)
}

// ChatJSON runs one completion forced to a JSON object, falling back to a
// plain completion when the provider has no JSON mode.
func (c *Client) ChatJSON(ctx context.Context, system string, turns []providers.Turn) (string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	if jp, ok := c.provider.(providers.JSONProvider); ok {
		return jp.ChatJSON(ctx, system, turns)
	}
	return c.provider.Chat(ctx, system, turns)
}

// ChatStream streams one completion under the per-call deadline.
func (c *Client) ChatStream(ctx context.Context, system string, turns []providers.Turn, callback func(string)) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.provider.ChatStream(ctx, system, turns, callback)
}

// ListModels asks the provider which models it serves.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.provider.ListModels(ctx)
}
