package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmrouter/pkg/errors"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

type wireEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type wireEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage wireUsage `json:"usage"`
}

// Embeddings implements provider.EmbeddingProvider against /embeddings.
func (p *Provider) Embeddings(ctx context.Context, req provider.EmbeddingRequest) (*provider.EmbeddingResponse, error) {
	body, err := json.Marshal(wireEmbeddingRequest{Model: req.Model, Input: req.Input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := p.authorize(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetworkError(Name, req.Model, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNetworkError(Name, req.Model, fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode >= 400 {
		return nil, p.mapError(req.Model, resp.StatusCode, respBody)
	}

	var wr wireEmbeddingResponse
	if err := json.Unmarshal(respBody, &wr); err != nil {
		return nil, errors.NewInternalError(Name, req.Model, fmt.Sprintf("unmarshal response: %v", err))
	}

	vectors := make([][]float64, len(wr.Data))
	for i, d := range wr.Data {
		vectors[i] = d.Embedding
	}

	return &provider.EmbeddingResponse{
		Vectors: vectors,
		Usage: provider.Usage{
			InputTokens: wr.Usage.PromptTokens,
		},
	}, nil
}
