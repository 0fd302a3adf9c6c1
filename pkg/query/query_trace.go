package query

import (
	"context"
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventMatchedArticleIDs TraceEventKind = "matched_article_ids"
	TraceEventMatchedEntityKeys TraceEventKind = "matched_entity_keys"
	TraceEventCypher            TraceEventKind = "cypher"
)

// TraceEvent is an extensible event envelope for query tracing.
type TraceEvent struct {
	Kind TraceEventKind

	ArticleIDs []string
	EntityKeys []string

	Statement  string
	DurationMs int64
	Error      string
}

// Tracer is a sink for query tracing events.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

type tracerKey struct{}

// WithTracer attaches t to ctx so graph backends can report what a query
// touched.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// TracerFrom returns the tracer attached to ctx or nil.
func TracerFrom(ctx context.Context) Tracer {
	t, _ := ctx.Value(tracerKey{}).(Tracer)
	return t
}

func RecordMatchedArticleIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventMatchedArticleIDs, ArticleIDs: ids})
}

func RecordMatchedEntityKeys(t Tracer, keys ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventMatchedEntityKeys, EntityKeys: keys})
}

func RecordCypher(t Tracer, statement string, durationMs int64, err error) {
	if t == nil {
		return
	}
	ev := TraceEvent{Kind: TraceEventCypher, Statement: statement, DurationMs: durationMs}
	if err != nil {
		ev.Error = err.Error()
	}
	t.Record(ev)
}

// QueryTrace collects what a query matched. It is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	articleIDs map[string]struct{}
	entityKeys map[string]struct{}
	statements []string
	durationMs int64
	errors     []string
}

type QueryTraceSnapshot struct {
	MatchedArticleIDs []string `json:"matched_article_ids"`
	MatchedEntityKeys []string `json:"matched_entity_keys"`
	Statements        []string `json:"statements,omitempty"`
	DurationMs        int64    `json:"duration_ms"`
	Errors            []string `json:"errors,omitempty"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		articleIDs: make(map[string]struct{}),
		entityKeys: make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventMatchedArticleIDs:
		for _, id := range event.ArticleIDs {
			if id == "" {
				continue
			}
			t.articleIDs[id] = struct{}{}
		}
	case TraceEventMatchedEntityKeys:
		for _, key := range event.EntityKeys {
			if key == "" {
				continue
			}
			t.entityKeys[key] = struct{}{}
		}
	case TraceEventCypher:
		t.statements = append(t.statements, event.Statement)
		t.durationMs += event.DurationMs
		if event.Error != "" {
			t.errors = append(t.errors, event.Error)
		}
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		MatchedArticleIDs: make([]string, 0, len(t.articleIDs)),
		MatchedEntityKeys: make([]string, 0, len(t.entityKeys)),
		Statements:        append([]string(nil), t.statements...),
		DurationMs:        t.durationMs,
		Errors:            append([]string(nil), t.errors...),
	}
	for id := range t.articleIDs {
		s.MatchedArticleIDs = append(s.MatchedArticleIDs, id)
	}
	for key := range t.entityKeys {
		s.MatchedEntityKeys = append(s.MatchedEntityKeys, key)
	}
	sort.Strings(s.MatchedArticleIDs)
	sort.Strings(s.MatchedEntityKeys)
	return s
}
