// Package app builds the components shared by the server, the worker and
// the CLI from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pubgraph/backend/internal/config"
	"github.com/pubgraph/backend/internal/storage"
	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/ai"
	"github.com/pubgraph/backend/pkg/ai/ollama"
	"github.com/pubgraph/backend/pkg/ai/openai"
	"github.com/pubgraph/backend/pkg/embed"
	"github.com/pubgraph/backend/pkg/embed/rediscache"
	"github.com/pubgraph/backend/pkg/loader"
	ioloader "github.com/pubgraph/backend/pkg/loader/io"
	"github.com/pubgraph/backend/pkg/loader/pubtator"
	s3loader "github.com/pubgraph/backend/pkg/loader/s3"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/pipeline"
	"github.com/pubgraph/backend/pkg/query"
	"github.com/pubgraph/backend/pkg/similarity"
	"github.com/pubgraph/backend/pkg/store"
	"github.com/pubgraph/backend/pkg/store/bolt"
	"github.com/pubgraph/backend/pkg/store/neo4j"
	"github.com/pubgraph/backend/pkg/store/pgx"
)

// Graph is a backend that can be written and queried.
type Graph interface {
	store.GraphWriter
	query.GraphQuerier
}

// OpenGraph connects the configured backend. The locker is cross-process for
// Postgres and in-process otherwise.
func OpenGraph(ctx context.Context, cfg *config.Config) (Graph, store.Locker, error) {
	switch strings.ToLower(cfg.Graph.Backend) {
	case "neo4j":
		s, err := neo4j.NewNeo4jStore(ctx, neo4j.ClientParams{
			URI:      cfg.Graph.Neo4jURI,
			User:     cfg.Graph.Neo4jUser,
			Password: cfg.Graph.Neo4jPassword,
			Database: cfg.Graph.Neo4jDatabase,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, store.NewKeyLocker(), nil
	case "pgx":
		s, err := pgx.NewGraphDBStorage(ctx, cfg.Graph.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		locker, err := s.Locker()
		if err != nil {
			_ = s.Close(ctx)
			return nil, nil, err
		}
		return s, locker, nil
	case "bolt":
		s, err := bolt.NewBoltStore(cfg.Graph.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, store.NewKeyLocker(), nil
	default:
		return nil, nil, fmt.Errorf("unknown graph backend %q", cfg.Graph.Backend)
	}
}

func NewEncoder(cfg *config.Config) (ai.Encoder, error) {
	e := cfg.Encoder
	switch strings.ToLower(e.Adapter) {
	case "ollama":
		return ollama.NewOllamaEncoder(ollama.NewOllamaEncoderParams{
			Model:                 e.Model,
			Dimensions:            e.Dimensions,
			BaseURL:               e.URL,
			ApiKey:                e.Key,
			Timeout:               e.Timeout,
			MaxConcurrentRequests: int64(e.ParallelReq),
		})
	case "openai":
		return openai.NewOpenAIEncoder(openai.NewOpenAIEncoderParams{
			Model:                 e.Model,
			Dimensions:            e.Dimensions,
			RequestDimensions:     e.SendDimensions,
			BaseURL:               e.URL,
			APIKey:                e.Key,
			Timeout:               e.Timeout,
			MaxConcurrentRequests: int64(e.ParallelReq),
		}), nil
	default:
		return nil, fmt.Errorf("unknown encoder adapter %q", e.Adapter)
	}
}

// NewEngine wraps enc with truncation, batching and, when REDIS_URL is set,
// the Redis vector cache. The returned close func releases the cache.
func NewEngine(ctx context.Context, cfg *config.Config, enc ai.Encoder) (*embed.Engine, func() error, error) {
	closeFn := func() error { return nil }

	tok, err := embed.NewTiktokenTokenizer(cfg.Encoder.TokenEncoding)
	if err != nil {
		return nil, closeFn, err
	}

	var cache embed.Cache
	if cfg.Cache.RedisURL != "" {
		c, err := rediscache.New(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			logger.Warn("[App] Embedding cache disabled", "err", err)
		} else {
			cache = c
			closeFn = c.Close
		}
	}

	engine, err := embed.NewEngine(embed.Params{
		Encoder:     enc,
		Tokenizer:   tok,
		MaxTokens:   cfg.Encoder.MaxTokens,
		TokenMargin: cfg.Encoder.TokenMargin,
		Pooling:     embed.Pooling(cfg.Encoder.Pooling),
		BatchSize:   cfg.Encoder.BatchSize,
		Concurrency: cfg.Encoder.ParallelReq,
		Cache:       cache,
		OnTruncate: func(index, originalTokens, keptTokens int) {
			logger.Debug("[Embed] Text truncated", "tokens", originalTokens, "kept", keptTokens)
		},
	})
	if err != nil {
		_ = closeFn()
		return nil, func() error { return nil }, err
	}
	return engine, closeFn, nil
}

// NewSource builds the configured article source. With archiving enabled the
// source copies every fetched document to the storage bucket.
func NewSource(ctx context.Context, cfg *config.Config, reports *storage.Store) (loader.ArticleSource, error) {
	var src loader.ArticleSource
	switch strings.ToLower(cfg.Source.Kind) {
	case "pubtator":
		// The runner retries transient fetch errors itself.
		src = pubtator.New(pubtator.Params{
			BaseURL:   cfg.Source.PubTatorURL,
			EUtilsURL: cfg.Source.EUtilsURL,
			Retry:     util.RetryPolicy{MaxAttempts: 1},
		})
	case "dir":
		if cfg.Source.Dir == "" {
			return nil, errors.New("source dir needs SOURCE_DIR")
		}
		src = ioloader.NewIOArticleSource(cfg.Source.Dir)
	case "s3":
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		src = s3loader.NewS3ArticleSourceWithClient(cfg.Source.Bucket, cfg.Source.Prefix, client)
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source.Kind)
	}

	if cfg.S3.Archive && reports != nil {
		return &storage.ArchivingSource{Source: src, Store: reports}, nil
	}
	return src, nil
}

// NewReportStore returns nil without error when no bucket is configured.
func NewReportStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	bucket := cfg.StorageBucket()
	if bucket == "" {
		return nil, nil
	}
	client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return storage.New(client, bucket, cfg.S3.ReportPrefix, cfg.S3.ArchivePrefix), nil
}

type RunnerParams struct {
	Source loader.ArticleSource
	Engine *embed.Engine
	Graph  Graph
	Locker store.Locker
	Hooks  pipeline.Hooks
}

func NewRunner(cfg *config.Config, p RunnerParams) (*pipeline.Runner, error) {
	return pipeline.NewRunner(pipeline.Params{
		Source:           p.Source,
		Engine:           p.Engine,
		Similarity:       similarity.New(cfg.Similarity.Threshold, cfg.Similarity.MaxNeighbors),
		Writer:           p.Graph,
		Locker:           p.Locker,
		ParallelArticles: cfg.Pipeline.ParallelArticles,
		Retry:            cfg.RetryPolicy(),
		HistoryPageSize:  cfg.Similarity.PageSize,
		Hooks:            p.Hooks,
	})
}
