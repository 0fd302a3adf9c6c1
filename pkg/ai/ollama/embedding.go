package ollama

import (
	"context"
	"errors"
	"fmt"

	"github.com/pubgraph/backend/pkg/ai"
	"github.com/pubgraph/backend/pkg/common"

	"github.com/ollama/ollama/api"
)

type apiStatusError struct {
	status int
	err    error
}

func (e *apiStatusError) Error() string   { return e.err.Error() }
func (e *apiStatusError) Unwrap() error   { return e.err }
func (e *apiStatusError) HTTPStatus() int { return e.status }

func encodingError(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		err = &apiStatusError{status: se.StatusCode, err: err}
	}
	return &common.EncodingError{Retryable: ai.IsTransient(err), Err: err}
}

// Embed creates embeddings for all texts with a single /api/embed call.
func (c *OllamaEncoder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	truncate := false
	req := &api.EmbedRequest{
		Model:    c.model,
		Input:    texts,
		Truncate: &truncate,
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, encodingError(err)
	}

	c.metrics.Add(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		Requests:    1,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != len(texts) {
		return nil, &common.EncodingError{
			Err: fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(texts)),
		}
	}
	return res.Embeddings, nil
}

// Ping asks the server for the model to make sure it is pulled.
func (c *OllamaEncoder) Ping(ctx context.Context) error {
	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.Client.Show(rCtx, &api.ShowRequest{Model: c.model}); err != nil {
		return encodingError(fmt.Errorf("model %s not available: %w", c.model, err))
	}
	return nil
}
