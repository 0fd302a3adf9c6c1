package pipeline

import (
	"context"
	"time"

	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/similarity"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RebuildSimilarities recomputes SIMILAR_TO edges over every persisted
// embedding. Each page of vectors is compared with itself and with all other
// persisted vectors, so memory stays bounded by two pages. Pairs spanning two
// pages are scored twice; upserts keep that harmless. It returns the number of
// edges written.
func (r *Runner) RebuildSimilarities(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.rebuild_similarities")
	defer span.End()

	start := time.Now()
	if err := r.writer.Ping(ctx); err != nil {
		return 0, err
	}

	total, pages := 0, 0
	err := r.writer.ScanEmbeddings(ctx, r.historyPage, nil, func(page []similarity.Vector) error {
		pages++
		batch := make([]similarity.Vector, len(page))
		copy(batch, page)

		edges, err := r.sim.CompareWithHistory(ctx, batch, r.writer, r.historyPage)
		if err != nil {
			return err
		}
		if len(edges) == 0 {
			return nil
		}
		err = util.RetryErrWithPolicy(ctx, r.retry, r.retryOptions("rebuild", StagePersist, common.IsRetryable), func(ctx context.Context) error {
			return r.writer.UpsertSimilarities(ctx, edges)
		})
		if err != nil {
			return err
		}
		total += len(edges)
		logger.Debug("[Pipeline] Similarity page done", "page", pages, "vectors", len(batch), "edges", len(edges))
		return nil
	})
	span.SetAttributes(attribute.Int("similarity.pages", pages), attribute.Int("similarity.edges", total))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rebuild failed")
		return total, err
	}

	logger.Info("[Pipeline] Similarities rebuilt", "pages", pages, "edges", total, "duration", time.Since(start))
	return total, nil
}
