package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/llmrouter/pkg/errors"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

func TestProvider_ChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))

	resp, err := p.ChatCompletion(context.Background(), provider.ChatRequest{
		Model:    "gpt-4",
		Messages: []provider.ChatMessage{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 3, resp.Usage.InputTokens)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}

func TestProvider_ChatCompletion_MapsRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))

	_, err := p.ChatCompletion(context.Background(), provider.ChatRequest{Model: "gpt-4"})
	require.Error(t, err)

	var llmErr *errors.LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, errors.KindRateLimit, llmErr.Kind)
}

func TestProvider_ChatCompletion_MapsContextLengthExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "too long", "code": "context_length_exceeded"}}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))

	_, err := p.ChatCompletion(context.Background(), provider.ChatRequest{Model: "gpt-4"})
	require.Error(t, err)

	var llmErr *errors.LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, errors.KindContextLengthExceeded, llmErr.Kind)
}

func TestProvider_SupportsModel(t *testing.T) {
	p := New(WithModels("gpt-4"))
	assert.True(t, p.SupportsModel("gpt-4"))
	assert.False(t, p.SupportsModel("claude-3"))
}

func TestProvider_SupportsModel_FallsBackToPrefixWhenUnconfigured(t *testing.T) {
	p := New()
	assert.True(t, p.SupportsModel("gpt-4o"))
	assert.True(t, p.SupportsModel("o1-preview"))
	assert.False(t, p.SupportsModel("claude-3"))
}
