// Package openai adapts the OpenAI chat completions API to the
// pkg/provider.Provider capability (spec §6.1). It is the reference
// adapter: other adapters in this repo follow its shape.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmrouter/pkg/errors"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

const (
	// Name is the identifier this adapter registers under in a
	// ProviderFactories map (config `provider: openai`).
	Name = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements pkg/provider.Provider, StreamingProvider and
// EmbeddingProvider for the OpenAI chat completions API.
type Provider struct {
	apiKey      string
	tokenSource provider.TokenSource
	baseURL     string
	models      []string
	headers     map[string]string
	httpClient  *http.Client
}

// New creates an OpenAI provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    DefaultBaseURL,
		headers:    make(map[string]string),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig builds a Provider from a provider.Config; it satisfies
// provider.Factory and is what internal/config.BuildRegistry calls.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if err := provider.ValidateConfig(provider.Config{
		Name:                cfg.Name,
		BaseURL:             baseURL,
		AllowPrivateBaseURL: cfg.AllowPrivateBaseURL,
		Headers:             cfg.Headers,
	}); err != nil {
		return nil, err
	}

	opts := []Option{
		WithAPIKey(cfg.APIKey),
		WithBaseURL(baseURL),
		WithModels(cfg.Models...),
	}
	if cfg.TokenSource != nil {
		opts = append(opts, WithTokenSource(cfg.TokenSource))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	p := New(opts...)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	return p, nil
}

// Name returns the adapter identifier.
func (p *Provider) Name() string { return Name }

// SupportsModel reports whether model is one of the configured deployment
// models, falling back to a gpt-/o1- prefix match when none were
// configured.
func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return len(p.models) == 0 && (strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1-"))
}

// wireRequest is the OpenAI chat completions request body.
type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatCompletion sends req to /chat/completions and maps the result into
// the unified provider.ChatResponse shape.
func (p *Provider) ChatCompletion(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	httpReq, err := p.buildRequest(ctx, toWireRequest(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetworkError(Name, req.Model, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNetworkError(Name, req.Model, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode >= 400 {
		return nil, p.mapError(req.Model, resp.StatusCode, body)
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, errors.NewInternalError(Name, req.Model, fmt.Sprintf("unmarshal response: %v", err))
	}
	if len(wr.Choices) == 0 {
		return nil, errors.NewInternalError(Name, req.Model, "response had no choices")
	}

	return &provider.ChatResponse{
		Content:      wr.Choices[0].Message.Content,
		FinishReason: wr.Choices[0].FinishReason,
		Usage: provider.Usage{
			InputTokens:  wr.Usage.PromptTokens,
			OutputTokens: wr.Usage.CompletionTokens,
		},
	}, nil
}

// HealthCheck issues a lightweight models-list request and maps the
// outcome to a provider.HealthStatus for the minute resetter (spec §4.7).
func (p *Provider) HealthCheck(ctx context.Context) (provider.HealthStatus, error) {
	url := strings.TrimSuffix(p.baseURL, "/") + "/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return provider.HealthUnknown, err
	}
	if err := p.authorize(ctx, httpReq); err != nil {
		return provider.HealthUnknown, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return provider.HealthUnhealthy, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 400:
		return provider.HealthHealthy, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.HealthDegraded, nil
	default:
		return provider.HealthUnhealthy, nil
	}
}

// CalculateCost always returns 0: this adapter carries no pricing. Per-token
// prices live in registry.Config (HasCost governs whether CostBased treats
// the deployment as priced or unpriced).
func (p *Provider) CalculateCost(model string, inputTokens, outputTokens int) float64 {
	return 0
}

func (p *Provider) buildRequest(ctx context.Context, wr wireRequest) (*http.Request, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := p.authorize(ctx, httpReq); err != nil {
		return nil, err
	}
	return httpReq, nil
}

func (p *Provider) authorize(ctx context.Context, httpReq *http.Request) error {
	token, err := provider.GetToken(ctx, p.tokenSource, p.apiKey)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return nil
}

func toWireRequest(req provider.ChatRequest, stream bool) wireRequest {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, wireMessage{Role: m.Role, Content: m.Content})
	}
	return wireRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// mapError converts an OpenAI error response into a *errors.LLMError
// carrying the Kind the router's retry/fallback/breaker logic keys off
// (spec §4.8).
func (p *Provider) mapError(model string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthenticationError(Name, model, message)
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(Name, model, message)
	case http.StatusBadRequest:
		if errResp.Error.Code == "context_length_exceeded" {
			return errors.NewContextLengthExceededError(Name, model, message)
		}
		return errors.NewInvalidRequestError(Name, model, message)
	case http.StatusNotFound:
		return errors.NewNotFoundError(Name, model, message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.NewTimeoutError(Name, model, message)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return errors.NewServiceUnavailableError(Name, model, message)
	default:
		return errors.NewInternalError(Name, model, message)
	}
}
