package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pubgraph/backend/pkg/common"
)

func newTestServer(t *testing.T, status int, handler func(inputs []string) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected /embeddings, got %s", r.URL.Path)
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(handler(req.Input))
	}))
}

func TestEmbedRestoresInputOrder(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, func(inputs []string) any {
		data := make([]map[string]any, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(i), 1},
			})
		}
		return map[string]any{
			"object": "list",
			"model":  "test",
			"data":   data,
			"usage":  map[string]any{"prompt_tokens": 6, "total_tokens": 6},
		}
	})
	defer srv.Close()

	enc := NewOpenAIEncoder(NewOpenAIEncoderParams{Model: "test", Dimensions: 2, BaseURL: srv.URL})
	out, err := enc.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(out))
	}
	for i, v := range out {
		if v[0] != float32(i) {
			t.Fatalf("expected vector %d to start with %d, got %v", i, i, v)
		}
	}
	if m := enc.GetMetrics(); m.Requests != 1 || m.TotalTokens != 6 {
		t.Fatalf("expected 1 request and 6 tokens, got %+v", m)
	}
}

func TestEmbedServerErrorIsRetryable(t *testing.T) {
	srv := newTestServer(t, http.StatusServiceUnavailable, func(inputs []string) any {
		return map[string]any{"error": map[string]any{"message": "loading", "type": "server_error"}}
	})
	defer srv.Close()

	enc := NewOpenAIEncoder(NewOpenAIEncoderParams{Model: "test", Dimensions: 2, BaseURL: srv.URL})
	_, err := enc.Embed(context.Background(), []string{"a"})
	var ee *common.EncodingError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if !ee.Retryable {
		t.Fatal("expected 503 to be retryable")
	}
}

func TestEmbedBadRequestIsPermanent(t *testing.T) {
	srv := newTestServer(t, http.StatusBadRequest, func(inputs []string) any {
		return map[string]any{"error": map[string]any{"message": "too long", "type": "invalid_request_error"}}
	})
	defer srv.Close()

	enc := NewOpenAIEncoder(NewOpenAIEncoderParams{Model: "test", Dimensions: 2, BaseURL: srv.URL})
	_, err := enc.Embed(context.Background(), []string{"a"})
	var ee *common.EncodingError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if ee.Retryable {
		t.Fatal("expected 400 to be permanent")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	enc := NewOpenAIEncoder(NewOpenAIEncoderParams{Model: "test", Dimensions: 2})
	out, err := enc.Embed(context.Background(), nil)
	if err != nil || out != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", out, err)
	}
}
