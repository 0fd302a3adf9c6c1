package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Similarity.Threshold != 0.8 {
		t.Errorf("expected Threshold=0.8, got %v", cfg.Similarity.Threshold)
	}
	if cfg.Encoder.MaxTokens != 512 {
		t.Errorf("expected MaxTokens=512, got %d", cfg.Encoder.MaxTokens)
	}
	if cfg.Pipeline.RetryMaxAttempts != 3 {
		t.Errorf("expected RetryMaxAttempts=3, got %d", cfg.Pipeline.RetryMaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Graph.Backend == "" {
		t.Fatal("expected default graph backend")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pubgraph.yaml")
	content := `
graph:
  backend: bolt
  bolt_path: /tmp/graph.db
similarity:
  threshold: 0.9
  max_neighbors: 5
pipeline:
  retry_initial: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIMILARITY_MAX_NEIGHBORS", "7")
	t.Setenv("PARALLEL_ARTICLES", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Graph.Backend != "bolt" || cfg.Graph.BoltPath != "/tmp/graph.db" {
		t.Errorf("expected bolt backend at /tmp/graph.db, got %+v", cfg.Graph)
	}
	if cfg.Similarity.Threshold != 0.9 {
		t.Errorf("expected Threshold=0.9, got %v", cfg.Similarity.Threshold)
	}
	if cfg.Similarity.MaxNeighbors != 7 {
		t.Errorf("expected env to override MaxNeighbors=7, got %d", cfg.Similarity.MaxNeighbors)
	}
	if cfg.Pipeline.ParallelArticles != 2 {
		t.Errorf("expected ParallelArticles=2, got %d", cfg.Pipeline.ParallelArticles)
	}
	if cfg.Pipeline.RetryInitial != 250*time.Millisecond {
		t.Errorf("expected RetryInitial=250ms, got %v", cfg.Pipeline.RetryInitial)
	}
	if p := cfg.RetryPolicy(); p.InitialInterval != 250*time.Millisecond || p.MaxAttempts != 3 {
		t.Errorf("expected retry policy from config, got %+v", p)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Graph.Backend = "sqlite" }},
		{"adapter", func(c *Config) { c.Encoder.Adapter = "bert" }},
		{"pooling", func(c *Config) { c.Encoder.Pooling = "max" }},
		{"source", func(c *Config) { c.Source.Kind = "ftp" }},
		{"dimensions", func(c *Config) { c.Encoder.Dimensions = 0 }},
		{"token margin", func(c *Config) { c.Encoder.TokenMargin = 1 }},
		{"threshold", func(c *Config) { c.Similarity.Threshold = 1.5 }},
		{"attempts", func(c *Config) { c.Pipeline.RetryMaxAttempts = 0 }},
		{"s3 bucket", func(c *Config) { c.Source.Kind = "s3" }},
		{"archive bucket", func(c *Config) { c.S3.Archive = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestStorageBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Bucket = "articles"
	if got := cfg.StorageBucket(); got != "articles" {
		t.Fatalf("expected fallback to source bucket, got %q", got)
	}
	cfg.S3.Bucket = "reports"
	if got := cfg.StorageBucket(); got != "reports" {
		t.Fatalf("expected report bucket, got %q", got)
	}
}
