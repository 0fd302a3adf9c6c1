package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pubgraph/backend/pkg/common"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("expected /api/embed, got %s", r.URL.Path)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float32{float32(i), 0.5}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             req.Model,
			"embeddings":        embeddings,
			"prompt_eval_count": 4,
		})
	}))
	defer srv.Close()

	enc, err := NewOllamaEncoder(NewOllamaEncoderParams{Model: "nomic-embed-text", Dimensions: 2, BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	out, err := enc.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(out) != 2 || out[1][0] != 1 {
		t.Fatalf("expected 2 ordered vectors, got %v", out)
	}
	if m := enc.GetMetrics(); m.Requests != 1 || m.InputTokens != 4 {
		t.Fatalf("expected 1 request and 4 tokens, got %+v", m)
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "model crashed"})
	}))
	defer srv.Close()

	enc, err := NewOllamaEncoder(NewOllamaEncoderParams{Model: "m", Dimensions: 2, BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	_, err = enc.Embed(context.Background(), []string{"a"})
	var ee *common.EncodingError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if !ee.Retryable {
		t.Fatal("expected server error to be retryable")
	}
}
