package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/pubgraph/backend/internal/app"
	"github.com/pubgraph/backend/internal/storage"
	"github.com/pubgraph/backend/pkg/loader"
	"github.com/pubgraph/backend/pkg/pipeline"
	"github.com/pubgraph/backend/pkg/store"
)

// session holds everything a pipeline command needs. close releases it in
// reverse order of creation.
type session struct {
	graph   app.Graph
	locker  store.Locker
	source  loader.ArticleSource
	reports *storage.Store
	runner  *pipeline.Runner
	closers []func()
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openGraph(ctx context.Context) (app.Graph, store.Locker, error) {
	graph, locker, err := app.OpenGraph(ctx, GetConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open graph database: %w", err)
	}
	return graph, locker, nil
}

// openSession connects the graph, the encoder and the source and builds a
// runner reporting to hooks.
func openSession(ctx context.Context, hooks pipeline.Hooks) (*session, error) {
	cfg := GetConfig()
	s := &session{}

	graph, locker, err := openGraph(ctx)
	if err != nil {
		return nil, err
	}
	s.graph, s.locker = graph, locker
	s.closers = append(s.closers, func() { _ = graph.Close(context.Background()) })

	encoder, err := app.NewEncoder(cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	engine, closeCache, err := app.NewEngine(ctx, cfg, encoder)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = closeCache() })

	s.reports, err = app.NewReportStore(ctx, cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	s.source, err = app.NewSource(ctx, cfg, s.reports)
	if err != nil {
		s.close()
		return nil, err
	}

	s.runner, err = app.NewRunner(cfg, app.RunnerParams{
		Source: s.source,
		Engine: engine,
		Graph:  graph,
		Locker: locker,
		Hooks:  hooks,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

var errNoSearch = errors.New("the configured source cannot search, use SOURCE=pubtator")

func searcher(src loader.ArticleSource) (loader.Searcher, error) {
	s, ok := src.(loader.Searcher)
	if !ok {
		return nil, errNoSearch
	}
	return s, nil
}
