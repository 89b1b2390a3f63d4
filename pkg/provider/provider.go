// Package provider defines the capability the router core requires of every
// AI provider adapter (spec §6.1). The core never builds HTTP requests or
// parses provider-native payloads itself; it only ever holds a Provider
// handle and invokes it through a caller-supplied operation closure. This
// package is deliberately narrow: request/response schema translation
// between a canonical "chat" shape and provider-native shapes lives in each
// adapter, not here.
package provider

import (
	"context"
	"time"
)

// ChatMessage is one turn of a chat-style request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is the canonical shape every adapter accepts. It is
// intentionally minimal; adapters translate it into their own wire format.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one completed request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is the canonical shape returned by ChatCompletion.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// StreamChunk is one increment of a streaming chat completion.
type StreamChunk struct {
	Delta string
	Done  bool
}

// EmbeddingRequest asks for vector embeddings of the given inputs.
type EmbeddingRequest struct {
	Model string
	Input []string
}

// EmbeddingResponse carries one vector per EmbeddingRequest.Input entry.
type EmbeddingResponse struct {
	Vectors [][]float64
	Usage   Usage
}

// HealthStatus is the coarse health a provider reports about itself,
// independent of the router's own per-deployment health accounting.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Provider is the minimum capability the router requires of every
// deployment's provider handle (spec §6.1). ChatCompletion and HealthCheck
// and CalculateCost are required; streaming and embeddings are optional and
// discovered via the StreamingProvider/EmbeddingProvider interfaces below.
// Providers must be safe for concurrent use: the router never serializes
// access to a Provider handle across deployments or requests.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// ChatCompletion performs one non-streaming chat completion call.
	// Returned errors should be a *pkgerrors.LLMError (found via errors.As)
	// so the router can classify them per spec §4.8; an unclassified error
	// is treated as KindOther (non-retryable, no breaker effect, general
	// fallback category, otherwise surfaced as last_error).
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// HealthCheck reports the provider's own view of its health. Called by
	// the minute-window resetter on an independent schedule for deployments
	// that have gone idle (spec §4.7, §6.1); never called from the hot path.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// CalculateCost returns the monetary cost of one completed request. The
	// router does not call it: the CostBased strategy ranks only by a
	// deployment's static cost-per-token config.
	CalculateCost(model string, inputTokens, outputTokens int) float64
}

// StreamingProvider is implemented by adapters that support streaming chat
// completions. Its absence is not an error; the router itself never calls
// it, so an operation that wants streaming type-asserts the Provider handle
// it is given.
type StreamingProvider interface {
	Provider
	ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// EmbeddingProvider is implemented by adapters that support embeddings.
type EmbeddingProvider interface {
	Provider
	Embeddings(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
}

// TokenSource retrieves a credential dynamically (OIDC, IAM) instead of a
// static API key baked into configuration.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource implements TokenSource with a fixed value, the common
// case of an API key read from configuration/environment.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource wraps a fixed credential as a TokenSource.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the static credential.
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	return s.token, nil
}

// GetToken resolves a credential from src if non-nil, otherwise falls back
// to the static apiKey. Adapters use this so a configured TokenSource
// always takes precedence over a plain api_key.
func GetToken(ctx context.Context, src TokenSource, apiKey string) (string, error) {
	if src != nil {
		return src.Token(ctx)
	}
	return apiKey, nil
}

// Config is adapter construction configuration, shared across providers.
type Config struct {
	Name        string
	APIKey      string
	TokenSource TokenSource
	BaseURL     string
	// AllowPrivateBaseURL permits loopback/private/link-local base URLs
	// (e.g. http://127.0.0.1). Default false to reduce SSRF risk when
	// base_url can be influenced by an untrusted party.
	AllowPrivateBaseURL bool
	Models              []string
	Timeout             time.Duration
	Headers             map[string]string
}

// Factory constructs a Provider from Config; one is registered per adapter
// type in a provider-name → Factory table that configuration wiring
// consults (see internal/config and cmd/gatewayrouter).
type Factory func(cfg Config) (Provider, error)
