package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kubenl/kubenl/pkg/config"
	"github.com/kubenl/kubenl/pkg/kube"
	"github.com/kubenl/kubenl/pkg/translate/providers"
)

// ClarifyMarker prefixes the rationale when the backend needs more detail
// from the operator instead of guessing.
const ClarifyMarker = "CLARIFY:"

const (
	minRequestLen = 1
	maxRequestLen = 500
)

var (
	// ErrUnavailable reports that no translation backend could be reached.
	ErrUnavailable = errors.New("no translation backend available")
	// ErrMalformed reports that a backend answered with a payload that
	// failed validation.
	ErrMalformed = errors.New("malformed translation response")
	// ErrRequestLength reports an out-of-bounds request.
	ErrRequestLength = fmt.Errorf("request must be %d-%d characters", minRequestLen, maxRequestLen)
)

// Request is a natural-language translation request bound to the
// environment it will run against.
type Request struct {
	Text string
	Env  *kube.EnvironmentContext
}

// Result is a validated translation.
type Result struct {
	Command    string `json:"command"`
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`
	// Backend names the provider that produced the result.
	Backend string `json:"-"`
}

// NeedsClarification reports whether the backend asked a follow-up
// question instead of committing to a command.
func (r Result) NeedsClarification() bool {
	return strings.HasPrefix(r.Rationale, ClarifyMarker)
}

// ClarifyQuestion returns the follow-up question, or "" when none.
func (r Result) ClarifyQuestion() string {
	if !r.NeedsClarification() {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(r.Rationale, ClarifyMarker))
}

// Translator converts natural-language requests into tool commands,
// preferring the local backend and falling back to the remote one.
type Translator struct {
	local   providers.Provider
	remote  providers.Provider
	tool    string
	verbs   []string
	timeout time.Duration
	retry   bool
	logger  *slog.Logger
}

// NewTranslator wires providers from the LLM config. Either backend may be
// absent; selection happens per request.
func NewTranslator(cfg config.LLMConfig, tool string, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Translator{
		tool:    tool,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		retry:   cfg.RetryEnabled,
		logger:  logger,
	}
	if t.timeout <= 0 {
		t.timeout = config.DefaultTimeoutSeconds * time.Second
	}
	if cfg.LocalEndpoint != "" {
		t.local = providers.NewOllamaProvider(&providers.ProviderConfig{
			Endpoint:      cfg.LocalEndpoint,
			Model:         cfg.LocalModel,
			SkipTLSVerify: cfg.SkipTLSVerify,
		})
	}
	if cfg.RemoteEndpoint != "" && cfg.APIKey != "" {
		t.remote = providers.NewOpenAIProvider(&providers.ProviderConfig{
			Endpoint:      cfg.RemoteEndpoint,
			Model:         cfg.RemoteModel,
			APIKey:        cfg.APIKey,
			SkipTLSVerify: cfg.SkipTLSVerify,
		})
	}
	return t
}

// SetVerbs overrides the verb catalog included in the prompt.
func (t *Translator) SetVerbs(verbs []string) { t.verbs = verbs }

// Translate runs one request through the first reachable backend. The
// whole attempt, probe included, is bounded by the configured timeout.
func (t *Translator) Translate(ctx context.Context, req Request) (Result, error) {
	text := strings.TrimSpace(req.Text)
	if len(text) < minRequestLen || len(text) > maxRequestLen {
		return Result{}, ErrRequestLength
	}
	if req.Env == nil {
		return Result{}, errors.New("translate: nil environment context")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	provider := t.selectProvider(ctx)
	if provider == nil {
		return Result{}, ErrUnavailable
	}

	messages, err := buildMessages(t.tool, t.verbs, text, req.Env)
	if err != nil {
		return Result{}, err
	}

	raw, err := t.complete(ctx, provider, messages)
	if err != nil {
		t.logger.Warn("translation failed", "backend", provider.Name(), "error", err)
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		// Timeouts and exhausted retries mean the backend could not be
		// reached, the same outcome as a failed probe. Permanent API
		// rejections keep their own error.
		if errors.Is(err, context.DeadlineExceeded) || providers.IsTransient(err) {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Result{}, err
	}

	result, err := t.parseResult(raw)
	if err != nil {
		t.logger.Warn("translation rejected", "backend", provider.Name(), "error", err)
		return Result{}, err
	}
	result.Backend = provider.Name()
	t.logger.Info("translation produced",
		"backend", provider.Name(),
		"model", provider.GetModel(),
		"confidence", result.Confidence)
	return result, nil
}

// selectProvider probes the local backend first and falls back to the
// remote one. A failed probe is logged, never fatal on its own.
func (t *Translator) selectProvider(ctx context.Context) providers.Provider {
	if t.local != nil && t.local.IsReady() {
		err := t.local.Probe(ctx)
		if err == nil {
			return t.local
		}
		t.logger.Debug("local backend unreachable", "error", err)
	}
	if t.remote != nil && t.remote.IsReady() {
		err := t.remote.Probe(ctx)
		if err == nil {
			return t.remote
		}
		t.logger.Debug("remote backend unreachable", "error", err)
	}
	return nil
}

// complete calls the provider, retrying exactly once on a transient
// failure when retries are enabled.
func (t *Translator) complete(ctx context.Context, p providers.Provider, messages []providers.ChatMessage) (string, error) {
	if !t.retry {
		return p.Complete(ctx, messages)
	}

	var raw string
	op := func() error {
		var err error
		raw, err = p.Complete(ctx, messages)
		if err != nil && !providers.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
		), 1),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return raw, nil
}

// parseResult validates the backend payload. Anything that fails here is
// discarded rather than shown to the operator as a runnable command.
func (t *Translator) parseResult(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	// Some models wrap JSON in code fences despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	result.Command = strings.TrimSpace(result.Command)
	if result.Command == "" {
		return Result{}, fmt.Errorf("%w: empty command", ErrMalformed)
	}
	if t.tool != "" && !strings.HasPrefix(result.Command, t.tool+" ") && result.Command != t.tool {
		return Result{}, fmt.Errorf("%w: command does not invoke %s", ErrMalformed, t.tool)
	}
	if result.Confidence < 0 || result.Confidence > 100 {
		return Result{}, fmt.Errorf("%w: confidence %d out of range", ErrMalformed, result.Confidence)
	}
	return result, nil
}
