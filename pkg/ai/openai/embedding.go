package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pubgraph/backend/pkg/ai"
	"github.com/pubgraph/backend/pkg/common"

	"github.com/openai/openai-go/v3"
)

type apiStatusError struct {
	status int
	err    error
}

func (e *apiStatusError) Error() string   { return e.err.Error() }
func (e *apiStatusError) Unwrap() error   { return e.err }
func (e *apiStatusError) HTTPStatus() int { return e.status }

func encodingError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		err = &apiStatusError{status: apiErr.StatusCode, err: err}
	}
	return &common.EncodingError{Retryable: ai.IsTransient(err), Err: err}
}

// Embed creates one embedding per input in a single request. The returned
// slice is ordered like texts, regardless of the order of the response.
func (c *OpenAIEncoder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.model,
	}
	if c.requestDimensions && c.dimensions > 0 {
		body.Dimensions = openai.Int(int64(c.dimensions))
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.Client.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, encodingError(err)
	}

	c.metrics.Add(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		Requests:    1,
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(texts) {
		return nil, &common.EncodingError{
			Err: fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(texts)),
		}
	}

	out := make([][]float32, len(texts))
	for _, embedding := range response.Data {
		idx := int(embedding.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, &common.EncodingError{Err: fmt.Errorf("embedding index out of range: %d", embedding.Index)}
		}
		vec := make([]float32, len(embedding.Embedding))
		for i, v := range embedding.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, &common.EncodingError{Err: fmt.Errorf("missing embedding for index %d", i)}
		}
	}
	return out, nil
}

// Ping issues a one word request to make sure the model is served.
func (c *OpenAIEncoder) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"ping"})
	return err
}
