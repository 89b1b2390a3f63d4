package anthropic

import (
	"time"

	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

// Option configures the Anthropic provider.
type Option func(*Provider)

// WithAPIKey sets the static API key.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithTokenSource sets a dynamic credential source, preferred over apiKey
// when both are set.
func WithTokenSource(src provider.TokenSource) Option {
	return func(p *Provider) {
		p.tokenSource = src
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithModels sets the models this deployment advertises support for.
func WithModels(models ...string) Option {
	return func(p *Provider) {
		p.models = models
	}
}

// WithAPIVersion overrides the Anthropic API version header.
func WithAPIVersion(version string) Option {
	return func(p *Provider) {
		if version != "" {
			p.apiVersion = version
		}
	}
}

// WithHeader adds a custom header sent with every request.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.headers[key] = value
	}
}

// WithTimeout overrides the HTTP client's request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}
