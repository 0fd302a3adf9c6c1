package ollama

import (
	"net/http"
	"net/url"
	"time"

	"github.com/pubgraph/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// OllamaEncoder implements ai.Encoder using a locally hosted Ollama server.
type OllamaEncoder struct {
	model      string
	dimensions int
	timeout    time.Duration

	reqLock *semaphore.Weighted
	metrics ai.Metrics

	Client *api.Client
}

// NewOllamaEncoderParams contains configuration options for creating a new OllamaEncoder.
type NewOllamaEncoderParams struct {
	Model      string
	Dimensions int

	BaseURL string
	ApiKey  string
	Timeout time.Duration

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewOllamaEncoder creates a new Ollama-based encoder. It connects to the
// Ollama server at the given BaseURL, or the default if empty.
func NewOllamaEncoder(
	params NewOllamaEncoderParams,
) (*OllamaEncoder, error) {
	u, err := url.Parse("http://127.0.0.1:11434")
	if err != nil {
		return nil, err
	}
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 4
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &OllamaEncoder{
		model:      params.Model,
		dimensions: params.Dimensions,
		timeout:    timeout,

		reqLock: semaphore.NewWeighted(maxReq),

		Client: api.NewClient(u, httpClient),
	}, nil
}

func (c *OllamaEncoder) Dimensions() int {
	return c.dimensions
}

func (c *OllamaEncoder) ModelName() string {
	return c.model
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *OllamaEncoder) ResetMetrics() {
	c.metrics.Reset()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *OllamaEncoder) GetMetrics() ai.ModelMetrics {
	return c.metrics.Get()
}
