// Package anthropic adapts the Anthropic Messages API to the
// pkg/provider.Provider capability (spec §6.1).
package anthropic

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
	// Name is the identifier this adapter registers under.
	Name = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version header value.
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens is used when ChatRequest.MaxTokens is unset, since
	// Anthropic's Messages API requires max_tokens on every call.
	DefaultMaxTokens = 4096
)

// DefaultModels lists the Claude models this adapter recognizes when a
// deployment's config does not restrict Models.
var DefaultModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
}

// Provider implements pkg/provider.Provider for the Anthropic Messages API.
// It implements neither StreamingProvider nor EmbeddingProvider.
type Provider struct {
	apiKey      string
	tokenSource provider.TokenSource
	baseURL     string
	apiVersion  string
	models      []string
	headers     map[string]string
	httpClient  *http.Client
}

// New creates an Anthropic provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		headers:    make(map[string]string),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig builds a Provider from a provider.Config; it satisfies
// provider.Factory.
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

// SupportsModel reports whether model is configured, falling back to
// DefaultModels and a "claude-" prefix match when none were configured.
func (p *Provider) SupportsModel(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	if len(p.models) > 0 {
		return false
	}
	for _, m := range DefaultModels {
		if m == model {
			return true
		}
	}
	return strings.HasPrefix(model, "claude-")
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      wireUsage `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatCompletion sends req to /v1/messages, pulling any "system"-role
// message out into Anthropic's dedicated system field since the Messages
// API has no system role (spec §6.1).
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

	var text strings.Builder
	for _, block := range wr.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &provider.ChatResponse{
		Content:      text.String(),
		FinishReason: mapStopReason(wr.StopReason),
		Usage: provider.Usage{
			InputTokens:  wr.Usage.InputTokens,
			OutputTokens: wr.Usage.OutputTokens,
		},
	}, nil
}

// HealthCheck sends a minimal one-token request, since Anthropic has no
// dedicated health endpoint.
func (p *Provider) HealthCheck(ctx context.Context) (provider.HealthStatus, error) {
	probe := provider.ChatRequest{
		Model:     firstOr(p.models, "claude-3-haiku-20240307"),
		Messages:  []provider.ChatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	httpReq, err := p.buildRequest(ctx, toWireRequest(probe, false))
	if err != nil {
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

// CalculateCost is unset for this adapter; pricing is carried in
// registry.Config instead.
func (p *Provider) CalculateCost(model string, inputTokens, outputTokens int) float64 {
	return 0
}

func (p *Provider) buildRequest(ctx context.Context, wr wireRequest) (*http.Request, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	token, err := provider.GetToken(ctx, p.tokenSource, p.apiKey)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", token)
	httpReq.Header.Set("anthropic-version", p.apiVersion)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func toWireRequest(req provider.ChatRequest, stream bool) wireRequest {
	var system strings.Builder
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system.WriteString(m.Content)
			continue
		}
		messages = append(messages, wireMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return wireRequest{
		Model:       req.Model,
		Messages:    messages,
		System:      system.String(),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func firstOr(models []string, fallback string) string {
	if len(models) > 0 {
		return models[0]
	}
	return fallback
}

// mapError converts an Anthropic error response into a *errors.LLMError.
func (p *Provider) mapError(model string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
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
		if errResp.Error.Type == "invalid_request_error" && strings.Contains(message, "max_tokens") {
			return errors.NewContextLengthExceededError(Name, model, message)
		}
		return errors.NewInvalidRequestError(Name, model, message)
	case http.StatusNotFound:
		return errors.NewNotFoundError(Name, model, message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.NewTimeoutError(Name, model, message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
		return errors.NewServiceUnavailableError(Name, model, message)
	default:
		return errors.NewInternalError(Name, model, message)
	}
}
