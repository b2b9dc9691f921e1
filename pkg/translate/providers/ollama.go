package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	config     *ProviderConfig
	httpClient *http.Client
	endpoint   string
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewOllamaProvider creates a provider for a local Ollama endpoint.
func NewOllamaProvider(cfg *ProviderConfig) *OllamaProvider {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}

	return &OllamaProvider{
		config: &ProviderConfig{
			Endpoint:      endpoint,
			Model:         model,
			SkipTLSVerify: cfg.SkipTLSVerify,
		},
		httpClient: newHTTPClient(cfg.SkipTLSVerify),
		endpoint:   endpoint,
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) GetModel() string { return p.config.Model }

func (p *OllamaProvider) IsReady() bool {
	return p.config != nil && p.endpoint != ""
}

// Probe checks the server's model listing endpoint.
func (p *OllamaProvider) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", p.endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama probe failed (status %d)", resp.StatusCode)
	}
	return nil
}

// Complete performs a non-streaming chat request. JSON output format is
// requested so the translator gets a parseable payload.
func (p *OllamaProvider) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	reqBody := ollamaChatRequest{
		Model:    p.config.Model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/chat", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", &APIError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return chatResp.Message.Content, nil
}

var _ Provider = (*OllamaProvider)(nil)
