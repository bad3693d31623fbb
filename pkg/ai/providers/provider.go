// Package providers implements chat-style clients for the supported hosted
// LLM backends behind a common interface.
package providers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"
)

// Turn is one role-tagged message of a conversation.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ProviderConfig carries the settings a provider needs.
type ProviderConfig struct {
	Provider      string
	Model         string
	Endpoint      string
	APIKey        string
	SkipTLSVerify bool
}

// Provider is a chat-style LLM client: a system instruction plus role-tagged
// history (the last turn being the new user utterance) in, reply text out.
type Provider interface {
	Name() string
	GetModel() string
	IsReady() bool
	Chat(ctx context.Context, system string, turns []Turn) (string, error)
	// ChatStream delivers the reply incrementally through callback.
	ChatStream(ctx context.Context, system string, turns []Turn, callback func(string)) error
	ListModels(ctx context.Context) ([]string, error)
}

// JSONProvider is implemented by providers that can structurally force the
// reply to be a single JSON object, removing fence-scraping from callers.
type JSONProvider interface {
	Provider
	ChatJSON(ctx context.Context, system string, turns []Turn) (string, error)
}

// newHTTPClient builds the shared HTTP client. No client-level timeout: each
// call carries a context deadline, and streaming responses outlive any fixed
// round-trip budget.
func newHTTPClient(skipTLSVerify bool) *http.Client {
	transport := &http.Transport{
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	if skipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}

// httpStatusError formats a non-200 API response consistently so the retry
// wrapper can classify it.
func httpStatusError(status int, body []byte) error {
	return fmt.Errorf("API error (status %d): %s", status, string(body))
}
