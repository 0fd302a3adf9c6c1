// Package embed maps article text to fixed-size vectors.
//
// The Engine sits in front of an ai.Encoder. It truncates over-long input,
// batches requests, bounds how many batches are in flight, validates the
// dimension of every vector and optionally consults a Cache. Input order is
// always preserved.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/ai"
	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type Pooling string

const (
	// PoolingDocument sends the whole text to the encoder in one piece.
	PoolingDocument Pooling = "document"
	// PoolingSentenceMean encodes every lowercased sentence and averages the
	// vectors.
	PoolingSentenceMean Pooling = "sentence-mean"
)

const (
	DefaultMaxTokens   = 512
	DefaultBatchSize   = 16
	DefaultConcurrency = 2
)

// Cache stores unit vectors across runs. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// Result is the embedding of one input text.
type Result struct {
	Vector    []float32
	Truncated bool
	Tokens    int
}

type Params struct {
	Encoder   ai.Encoder
	Tokenizer Tokenizer
	MaxTokens int
	// TokenMargin is the share of MaxTokens kept free when Tokenizer is not
	// the encoder's own, e.g. 0.2 keeps texts at 80% of MaxTokens.
	TokenMargin float64
	Pooling     Pooling
	BatchSize   int
	// Concurrency bounds the encoder batches in flight across all callers.
	Concurrency int
	Cache       Cache
	// OnTruncate is called for every input cut to MaxTokens.
	OnTruncate func(index, originalTokens, keptTokens int)
}

type Engine struct {
	encoder    ai.Encoder
	tokenizer  Tokenizer
	maxTokens  int
	pooling    Pooling
	batchSize  int
	cache      Cache
	onTruncate func(index, originalTokens, keptTokens int)

	sem *semaphore.Weighted
}

func NewEngine(p Params) (*Engine, error) {
	if p.Encoder == nil {
		return nil, errors.New("embed: encoder is required")
	}
	if p.Encoder.Dimensions() <= 0 {
		return nil, fmt.Errorf("embed: encoder %s reports no dimensions", p.Encoder.ModelName())
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.TokenMargin < 0 || p.TokenMargin >= 1 {
		return nil, fmt.Errorf("embed: token margin %v outside [0, 1)", p.TokenMargin)
	}
	budget := max(1, p.MaxTokens-int(float64(p.MaxTokens)*p.TokenMargin))
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.Concurrency <= 0 {
		p.Concurrency = DefaultConcurrency
	}
	switch p.Pooling {
	case "":
		p.Pooling = PoolingDocument
	case PoolingDocument, PoolingSentenceMean:
	default:
		return nil, fmt.Errorf("embed: unknown pooling %q", p.Pooling)
	}

	return &Engine{
		encoder:    p.Encoder,
		tokenizer:  p.Tokenizer,
		maxTokens:  budget,
		pooling:    p.Pooling,
		batchSize:  p.BatchSize,
		cache:      p.Cache,
		onTruncate: p.OnTruncate,
		sem:        semaphore.NewWeighted(int64(p.Concurrency)),
	}, nil
}

func (e *Engine) Dimensions() int {
	return e.encoder.Dimensions()
}

func (e *Engine) ModelName() string {
	return e.encoder.ModelName()
}

// Ping checks that the encoder backend answers.
func (e *Engine) Ping(ctx context.Context) error {
	return e.encoder.Ping(ctx)
}

// EmbedText embeds a single text.
func (e *Engine) EmbedText(ctx context.Context, text string) (Result, error) {
	res, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return Result{}, err
	}
	return res[0], nil
}

// EmbedTexts embeds texts and returns one result per text in the same order.
// Empty texts map to a zero vector without calling the encoder.
func (e *Engine) EmbedTexts(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	// units are the distinct strings sent to the encoder, parts maps every
	// input to the units it is pooled from.
	var (
		units   []string
		unitIdx = make(map[string]int)
		parts   = make([][]int, len(texts))
	)
	addUnit := func(s string) int {
		if i, ok := unitIdx[s]; ok {
			return i
		}
		unitIdx[s] = len(units)
		units = append(units, s)
		return len(units) - 1
	}

	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		kept, tokens, truncated := Truncate(e.tokenizer, text, e.maxTokens)
		results[i].Tokens = tokens
		if truncated {
			results[i].Truncated = true
			if e.onTruncate != nil {
				e.onTruncate(i, tokens, e.maxTokens)
			}
		}

		switch e.pooling {
		case PoolingSentenceMean:
			sentences := util.SplitSentences(strings.ToLower(kept))
			if len(sentences) == 0 {
				sentences = []string{strings.ToLower(kept)}
			}
			for _, s := range sentences {
				parts[i] = append(parts[i], addUnit(s))
			}
		default:
			parts[i] = []int{addUnit(kept)}
		}
	}

	vectors, err := e.embedUnits(ctx, units)
	if err != nil {
		return nil, err
	}

	dim := e.Dimensions()
	for i := range texts {
		if len(parts[i]) == 0 {
			results[i].Vector = make([]float32, dim)
			continue
		}
		if len(parts[i]) == 1 {
			results[i].Vector = append([]float32(nil), vectors[parts[i][0]]...)
			continue
		}
		results[i].Vector = meanPool(vectors, parts[i], dim)
	}
	return results, nil
}

func (e *Engine) embedUnits(ctx context.Context, units []string) ([][]float32, error) {
	vectors := make([][]float32, len(units))
	if len(units) == 0 {
		return vectors, nil
	}

	missing := make([]int, 0, len(units))
	for i, u := range units {
		if vec, ok := e.cacheGet(ctx, u); ok {
			vectors[i] = vec
			continue
		}
		missing = append(missing, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(missing); start += e.batchSize {
		batch := missing[start:min(start+e.batchSize, len(missing))]
		g.Go(func() error {
			if err := e.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer e.sem.Release(1)

			inputs := make([]string, len(batch))
			for j, idx := range batch {
				inputs[j] = units[idx]
			}
			out, err := e.encoder.Embed(gctx, inputs)
			if err != nil {
				var ee *common.EncodingError
				if errors.As(err, &ee) {
					return err
				}
				if gctx.Err() != nil {
					return err
				}
				return &common.EncodingError{Retryable: ai.IsTransient(err), Err: err}
			}
			if len(out) != len(inputs) {
				return &common.EncodingError{
					Err: fmt.Errorf("encoder returned %d vectors for %d inputs", len(out), len(inputs)),
				}
			}
			for j, idx := range batch {
				if err := e.checkDimensions(out[j]); err != nil {
					return err
				}
				vectors[idx] = out[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, idx := range missing {
		e.cacheSet(ctx, units[idx], vectors[idx])
	}
	return vectors, nil
}

func (e *Engine) checkDimensions(vec []float32) error {
	if want := e.Dimensions(); len(vec) != want {
		return &common.EncodingError{
			Err: fmt.Errorf("encoder %s returned %d dimensions, expected %d", e.encoder.ModelName(), len(vec), want),
		}
	}
	return nil
}

// CacheKey identifies a unit vector for one model, dimension and pooling
// mode.
func (e *Engine) CacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(e.encoder.ModelName()))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(e.Dimensions())))
	h.Write([]byte{'|'})
	h.Write([]byte(e.pooling))
	h.Write([]byte{'|'})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) cacheGet(ctx context.Context, text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	vec, ok, err := e.cache.Get(ctx, e.CacheKey(text))
	if err != nil {
		logger.Warn("[Embed] Cache lookup failed", "err", err)
		return nil, false
	}
	if !ok || len(vec) != e.Dimensions() {
		return nil, false
	}
	return vec, true
}

func (e *Engine) cacheSet(ctx context.Context, text string, vec []float32) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, e.CacheKey(text), vec); err != nil {
		logger.Warn("[Embed] Cache store failed", "err", err)
	}
}

func meanPool(vectors [][]float32, idx []int, dim int) []float32 {
	sum := make([]float64, dim)
	for _, i := range idx {
		for d, v := range vectors[i] {
			sum[d] += float64(v)
		}
	}
	out := make([]float32, dim)
	n := float64(len(idx))
	for d := range sum {
		out[d] = float32(sum[d] / n)
	}
	return out
}
