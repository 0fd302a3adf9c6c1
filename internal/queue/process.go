package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/loader"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/pipeline"
)

const DefaultSearchLimit = 100

// Runner is the part of *pipeline.Runner the worker drives.
type Runner interface {
	Run(ctx context.Context, ids []string) (*pipeline.Report, error)
	RebuildSimilarities(ctx context.Context) (int, error)
}

// Processor turns queue messages into pipeline runs.
type Processor struct {
	Runner   Runner
	Searcher loader.Searcher
	// OnReport, when set, receives the report of every finished ingest run.
	OnReport func(ctx context.Context, report *pipeline.Report)
}

// ProcessIngestMessage runs the pipeline for one ingest message. Per-article
// failures stay in the report; an error is only returned when the run could
// not start or when every article failed for a reason a later attempt may
// fix, so the message goes through the retry queue.
func (p *Processor) ProcessIngestMessage(ctx context.Context, body []byte) (*pipeline.Report, error) {
	msg, err := DecodeIngestMsg(body)
	if err != nil {
		return nil, err
	}

	ids := msg.IDs
	if msg.Query != "" {
		if p.Searcher == nil {
			return nil, fmt.Errorf("source cannot resolve query %q", msg.Query)
		}
		limit := msg.Limit
		if limit <= 0 {
			limit = DefaultSearchLimit
		}
		found, err := p.Searcher.Search(ctx, msg.Query, limit)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", msg.Query, err)
		}
		logger.Info("[Queue] Query resolved", "run_id", msg.RunID, "query", msg.Query, "articles", len(found))
		ids = append(ids, found...)
	}
	if len(ids) == 0 {
		logger.Warn("[Queue] Nothing to ingest", "run_id", msg.RunID)
		return &pipeline.Report{RunID: msg.RunID}, nil
	}

	start := time.Now()
	report, err := p.Runner.Run(pipeline.WithRunID(ctx, msg.RunID), ids)
	if err != nil {
		return nil, err
	}
	if p.OnReport != nil {
		p.OnReport(ctx, report)
	}
	logger.Info("[Queue] Ingest completed",
		"run_id", report.RunID,
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"duration_sec", time.Since(start).Seconds(),
	)
	for _, f := range report.Failed {
		logger.Warn("[Queue] Article failed", "run_id", msg.RunID, "id", f.ID, "stage", f.Stage, "kind", f.Kind, "detail", f.Detail)
	}

	if len(report.Succeeded) == 0 && allRetryable(report.Failed) {
		return report, fmt.Errorf("all %d articles failed", len(report.Failed))
	}
	return report, nil
}

func (p *Processor) ProcessSimilarityMessage(ctx context.Context, body []byte) (int, error) {
	var msg SimilarityMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return 0, fmt.Errorf("decode similarity message: %w", err)
	}
	n, err := p.Runner.RebuildSimilarities(ctx)
	if err != nil {
		return n, err
	}
	logger.Info("[Queue] Similarities rebuilt", "run_id", msg.RunID, "edges", n)
	return n, nil
}

// Process dispatches body to the handler of queueName.
func (p *Processor) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		_, err := p.ProcessIngestMessage(ctx, body)
		return err
	case SimilarityQueue:
		_, err := p.ProcessSimilarityMessage(ctx, body)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}
}

var ErrUnknownQueue = errors.New("unknown queue")

func allRetryable(failures []pipeline.Failure) bool {
	if len(failures) == 0 {
		return false
	}
	for _, f := range failures {
		switch f.Kind {
		case common.KindPersistenceFailure, common.KindEncodingFailure, common.KindUnknown:
		default:
			return false
		}
	}
	return true
}
