package ai

import (
	"math"
	"sync"
)

// Metrics accumulates ModelMetrics across concurrent requests.
type Metrics struct {
	mu      sync.Mutex
	metrics ModelMetrics
}

// Add folds m into the running totals and recomputes the throughput.
func (a *Metrics) Add(m ModelMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.metrics.InputTokens += m.InputTokens
	a.metrics.TotalTokens += m.TotalTokens
	a.metrics.Requests += m.Requests
	a.metrics.DurationMs += m.DurationMs

	if a.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(a.metrics.TotalTokens) * 1000.0) / float64(a.metrics.DurationMs)
		a.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}

// Get returns a snapshot of the totals.
func (a *Metrics) Get() ModelMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// Reset clears all totals.
func (a *Metrics) Reset() {
	a.mu.Lock()
	a.metrics = ModelMetrics{}
	a.mu.Unlock()
}
