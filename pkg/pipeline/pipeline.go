// Package pipeline drives articles from a source through parsing, embedding
// and persistence, then links the new articles to similar ones.
//
// Articles run concurrently and independently. A failing article is recorded
// in the Report and never stops the others; only Preflight failures abort a
// run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/embed"
	"github.com/pubgraph/backend/pkg/loader"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/pubtator"
	"github.com/pubgraph/backend/pkg/similarity"
	"github.com/pubgraph/backend/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/pubgraph/backend/pkg/pipeline"

const DefaultParallelArticles = 4

// Embedder is the part of *embed.Engine the runner needs.
type Embedder interface {
	EmbedText(ctx context.Context, text string) (embed.Result, error)
	Ping(ctx context.Context) error
}

// ParseFunc turns one raw document into an article.
type ParseFunc func(data []byte) (*pubtator.Result, error)

type Hooks struct {
	// OnArticle is called on every state change. It may be called from
	// several goroutines at once.
	OnArticle func(id string, state State)
}

type Params struct {
	Source     loader.ArticleSource
	Parser     ParseFunc
	Engine     Embedder
	Similarity *similarity.Engine
	Writer     store.GraphWriter
	// Locker serialises writes per article. Defaults to an in-process
	// store.KeyLocker.
	Locker           store.Locker
	ParallelArticles int
	Retry            util.RetryPolicy
	HistoryPageSize  int
	Hooks            Hooks
	Tracer           trace.Tracer
}

type Runner struct {
	source      loader.ArticleSource
	parse       ParseFunc
	engine      Embedder
	sim         *similarity.Engine
	writer      store.GraphWriter
	locker      store.Locker
	parallel    int
	retry       util.RetryPolicy
	historyPage int
	hooks       Hooks
	tracer      trace.Tracer
}

func NewRunner(p Params) (*Runner, error) {
	if p.Source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if p.Engine == nil {
		return nil, errors.New("pipeline: embedding engine is required")
	}
	if p.Writer == nil {
		return nil, errors.New("pipeline: graph writer is required")
	}
	if p.Parser == nil {
		p.Parser = pubtator.Parse
	}
	if p.Similarity == nil {
		p.Similarity = similarity.New(similarity.DefaultThreshold, 0)
	}
	if p.Locker == nil {
		p.Locker = store.NewKeyLocker()
	}
	if p.ParallelArticles <= 0 {
		p.ParallelArticles = DefaultParallelArticles
	}
	if p.Retry.MaxAttempts <= 0 {
		p.Retry = util.DefaultRetryPolicy()
	}
	if p.Tracer == nil {
		p.Tracer = otel.Tracer(tracerName)
	}
	return &Runner{
		source:      p.Source,
		parse:       p.Parser,
		engine:      p.Engine,
		sim:         p.Similarity,
		writer:      p.Writer,
		locker:      p.Locker,
		parallel:    p.ParallelArticles,
		retry:       p.Retry,
		historyPage: p.HistoryPageSize,
		hooks:       p.Hooks,
		tracer:      p.Tracer,
	}, nil
}

// Preflight checks the encoder and the graph store before any article is
// touched. Its errors are fatal for the run.
func (r *Runner) Preflight(ctx context.Context) error {
	if err := r.engine.Ping(ctx); err != nil {
		return fmt.Errorf("encoder unavailable: %w", err)
	}
	if err := r.writer.Ping(ctx); err != nil {
		return fmt.Errorf("graph store unavailable: %w", err)
	}
	if err := r.writer.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("graph schema: %w", err)
	}
	return nil
}

type runIDKey struct{}

// WithRunID makes the next Run on ctx report under id instead of a fresh one.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return util.NewRunID()
}

// Run processes ids and links the persisted articles to similar ones. The
// returned error is only set for preflight failures; everything else ends up
// in the Report.
func (r *Runner) Run(ctx context.Context, ids []string) (*Report, error) {
	start := time.Now()
	ids = store.DedupeStrings(ids)
	report := &Report{RunID: runIDFrom(ctx), Succeeded: []string{}, Failed: []Failure{}}

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.articles", len(ids)),
	))
	defer span.End()

	if err := r.Preflight(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preflight failed")
		return nil, err
	}

	logger.Info("[Pipeline] Run started", "run_id", report.RunID, "articles", len(ids), "parallel", r.parallel)
	for _, id := range ids {
		r.notify(id, StatePending)
	}

	var mu sync.Mutex
	vectors := make([]similarity.Vector, 0, len(ids))
	record := func(id string, vec *similarity.Vector, failure *Failure) {
		mu.Lock()
		defer mu.Unlock()
		if failure != nil {
			report.Failed = append(report.Failed, *failure)
			return
		}
		report.Succeeded = append(report.Succeeded, id)
		vectors = append(vectors, *vec)
	}

	var eg errgroup.Group
	eg.SetLimit(r.parallel)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			f := newFailure(id, StageFetch, err)
			r.notify(id, StateFailed)
			record(id, nil, &f)
			continue
		}
		eg.Go(func() error {
			vec, failure := r.processArticle(ctx, id)
			record(id, vec, failure)
			return nil
		})
	}
	_ = eg.Wait()

	if len(vectors) > 0 {
		n, err := r.linkSimilar(ctx, vectors)
		report.SimilarityEdges = n
		if err != nil {
			report.SimilarityError = err.Error()
			logger.Error("[Pipeline] Similarity failed", "run_id", report.RunID, "err", err)
		}
	}

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("run.succeeded", len(report.Succeeded)),
		attribute.Int("run.failed", len(report.Failed)),
		attribute.Int("run.similarity_edges", report.SimilarityEdges),
	)
	logger.Info("[Pipeline] Run finished",
		"run_id", report.RunID,
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"edges", report.SimilarityEdges,
		"duration", report.Duration,
	)
	return report, nil
}

// processArticle runs one article through all stages. Exactly one of the
// results is non-nil.
func (r *Runner) processArticle(ctx context.Context, id string) (*similarity.Vector, *Failure) {
	ctx, span := r.tracer.Start(ctx, "pipeline.article", trace.WithAttributes(attribute.String("article.id", id)))
	defer span.End()

	fail := func(stage Stage, err error) (*similarity.Vector, *Failure) {
		f := newFailure(id, stage, err)
		if ctx.Err() != nil {
			f.Kind = common.KindCancelled
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		span.SetAttributes(attribute.String("article.failed_stage", string(stage)))
		r.notify(id, StateFailed)
		if f.Kind == common.KindCancelled {
			logger.Debug("[Pipeline] Article cancelled", "id", id, "stage", stage)
		} else {
			logger.Warn("[Pipeline] Article failed", "id", id, "stage", stage, "kind", f.Kind, "err", err)
		}
		return nil, &f
	}

	if err := ctx.Err(); err != nil {
		return fail(StageFetch, err)
	}

	data, err := util.RetryWithPolicy(ctx, r.retry, r.retryOptions(id, StageFetch, isRetryableFetch), func(ctx context.Context) ([]byte, error) {
		return r.source.Fetch(ctx, id)
	})
	if err != nil {
		return fail(StageFetch, err)
	}
	r.notify(id, StateFetched)

	parsed, err := r.parse(data)
	if err != nil {
		return fail(StageParse, err)
	}
	article := parsed.Article
	for _, w := range parsed.Warnings {
		logger.Warn("[Pipeline] Parser warning", "id", id, "warning", w)
	}
	if article.ID != id {
		logger.Warn("[Pipeline] Document id differs from requested id", "requested", id, "document", article.ID)
	}
	r.notify(id, StateParsed)

	emb, err := util.RetryWithPolicy(ctx, r.retry, r.retryOptions(id, StageEmbed, common.IsRetryable), func(ctx context.Context) (embed.Result, error) {
		return r.engine.EmbedText(ctx, article.Text())
	})
	if err != nil {
		return fail(StageEmbed, err)
	}
	if emb.Truncated {
		span.SetAttributes(attribute.Bool("article.truncated", true))
	}
	r.notify(id, StateEmbedded)

	g := store.NewArticleGraph(article, emb.Vector)
	err = util.RetryErrWithPolicy(ctx, r.retry, r.retryOptions(id, StagePersist, common.IsRetryable), func(ctx context.Context) error {
		return r.locker.WithLock(ctx, store.ArticleNodeID(article.ID), func(ctx context.Context) error {
			return r.writer.UpsertArticle(ctx, g)
		})
	})
	if err != nil {
		return fail(StagePersist, err)
	}
	r.notify(id, StatePersisted)
	logger.Debug("[Pipeline] Article persisted", "id", id, "entities", len(g.Entities), "relations", len(g.Relations))

	return &similarity.Vector{ID: article.ID, Values: emb.Vector}, nil
}

// linkSimilar scores the batch against itself and the persisted history and
// replaces the edges incident to the batch with the result.
func (r *Runner) linkSimilar(ctx context.Context, vectors []similarity.Vector) (int, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.similarity", trace.WithAttributes(attribute.Int("similarity.batch", len(vectors))))
	defer span.End()

	edges, err := r.sim.CompareWithHistory(ctx, vectors, r.writer, r.historyPage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compare")
		return 0, fmt.Errorf("compare: %w", err)
	}
	ids := make([]string, len(vectors))
	for i, v := range vectors {
		ids[i] = v.ID
	}
	// Edges of re-ingested articles are derived from the new embeddings only.
	err = util.RetryErrWithPolicy(ctx, r.retry, r.retryOptions("similarity", StagePersist, common.IsRetryable), func(ctx context.Context) error {
		return r.writer.ReplaceSimilarities(ctx, ids, edges)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		return 0, err
	}
	span.SetAttributes(attribute.Int("similarity.edges", len(edges)))
	return len(edges), nil
}

func (r *Runner) retryOptions(id string, stage Stage, retryable func(error) bool) util.RetryOptions {
	return util.RetryOptions{
		Retryable: retryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn("[Pipeline] Retrying", "id", id, "stage", stage, "attempt", attempt, "wait", wait, "err", err)
		},
	}
}

func (r *Runner) notify(id string, state State) {
	if r.hooks.OnArticle != nil {
		r.hooks.OnArticle(id, state)
	}
}

type transient interface {
	Transient() bool
}

// isRetryableFetch retries what the source marks as transient and otherwise
// falls back to the shared taxonomy, so unknown ids are never fetched twice.
func isRetryableFetch(err error) bool {
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return common.IsRetryable(err)
}
