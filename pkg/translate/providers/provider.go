// Package providers implements the pluggable translation backends: a local
// Ollama-compatible server (primary) and an OpenAI-compatible remote API
// (fallback). Both sit behind the Provider interface so the translator never
// branches on concrete types.
package providers

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// ChatMessage is one message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a translation backend capable of one-shot chat completion.
type Provider interface {
	// Name identifies the backend ("ollama", "openai").
	Name() string
	// GetModel returns the configured model identifier.
	GetModel() string
	// IsReady reports whether the provider is configured well enough to try.
	IsReady() bool
	// Probe checks availability with a cheap request. Used for local-first
	// backend selection.
	Probe(ctx context.Context) error
	// Complete sends the messages and returns the full response text.
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// ProviderConfig carries the settings shared by all backends.
type ProviderConfig struct {
	Endpoint      string
	Model         string
	APIKey        string
	SkipTLSVerify bool
}

func newHTTPClient(skipTLSVerify bool) *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	if skipTLSVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}
