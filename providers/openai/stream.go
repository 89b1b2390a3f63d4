package openai

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmrouter/pkg/errors"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// ChatCompletionStream implements provider.StreamingProvider by reading
// an OpenAI server-sent-events response and translating each frame into a
// provider.StreamChunk. The returned channel is closed when the stream
// ends or ctx is cancelled.
func (p *Provider) ChatCompletionStream(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	httpReq, err := p.buildRequest(ctx, toWireRequest(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetworkError(Name, req.Model, err.Error())
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		return nil, p.mapError(req.Model, resp.StatusCode, body.Bytes())
	}

	out := make(chan provider.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				select {
				case out <- provider.StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			var chunk wireStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			select {
			case out <- provider.StreamChunk{Delta: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
