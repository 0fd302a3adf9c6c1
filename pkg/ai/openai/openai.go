package openai

import (
	"time"

	"github.com/pubgraph/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// OpenAIEncoder is an ai.Encoder backed by any OpenAI compatible embeddings
// endpoint, e.g. the OpenAI API or a text-embeddings-inference server hosting
// a PubMedBERT sentence model.
//
// An OpenAIEncoder should be created using NewOpenAIEncoder.
type OpenAIEncoder struct {
	model             string
	dimensions        int
	requestDimensions bool
	timeout           time.Duration

	reqLock *semaphore.Weighted
	metrics ai.Metrics

	Client *openai.Client
}

// NewOpenAIEncoderParams defines the configuration for NewOpenAIEncoder.
//
// Model names the embedding model. Dimensions is the vector size every
// response must have. RequestDimensions forwards Dimensions to the API for
// models that support shortened embeddings. MaxConcurrentRequests bounds the
// number of in-flight requests.
type NewOpenAIEncoderParams struct {
	Model             string
	Dimensions        int
	RequestDimensions bool

	BaseURL string
	APIKey  string
	Timeout time.Duration

	MaxConcurrentRequests int64
}

// NewOpenAIEncoder creates a new encoder.
//
// Example:
//
//	enc := openai.NewOpenAIEncoder(openai.NewOpenAIEncoderParams{
//		Model:      "neuml/pubmedbert-base-embeddings",
//		Dimensions: 768,
//		BaseURL:    "http://localhost:8081/v1",
//		APIKey:     "unused",
//	})
func NewOpenAIEncoder(params NewOpenAIEncoderParams) *OpenAIEncoder {
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 4
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &OpenAIEncoder{
		model:             params.Model,
		dimensions:        params.Dimensions,
		requestDimensions: params.RequestDimensions,
		timeout:           timeout,

		reqLock: semaphore.NewWeighted(maxReq),

		Client: newOpenaiClient(params.BaseURL, params.APIKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		// local inference servers ignore the key but the SDK requires one
		apiKey = "none"
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

func (c *OpenAIEncoder) Dimensions() int {
	return c.dimensions
}

func (c *OpenAIEncoder) ModelName() string {
	return c.model
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *OpenAIEncoder) ResetMetrics() {
	c.metrics.Reset()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *OpenAIEncoder) GetMetrics() ai.ModelMetrics {
	return c.metrics.Get()
}
