package ai

import (
	"context"
	"errors"
	"net"
)

// Encoder turns texts into fixed-dimension vectors. Implementations are
// created once per process, are safe for concurrent use and bound their own
// number of in-flight requests.
//
// Embed returns one vector per input, in input order. Dimensions reports the
// vector size the deployment is configured for; backends do not pad or cut
// vectors, callers validate them.
type Encoder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Ping(ctx context.Context) error
}

// MetricsReporter is implemented by encoders that account for their usage.
type MetricsReporter interface {
	GetMetrics() ModelMetrics
	ResetMetrics()
}

// ModelMetrics contains usage counters accumulated by an encoder.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	Requests       int     `json:"requests"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// StatusError carries the HTTP status of a failed backend call.
type StatusError interface {
	error
	HTTPStatus() int
}

// IsTransient reports whether a backend error is worth retrying: timeouts,
// network failures, throttling and server errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se StatusError
	if errors.As(err, &se) {
		status := se.HTTPStatus()
		return status == 408 || status == 429 || status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
