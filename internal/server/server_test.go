package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	mid "github.com/pubgraph/backend/internal/server/middleware"
	"github.com/pubgraph/backend/internal/storage"
	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/pipeline"
	"github.com/pubgraph/backend/pkg/query"
	"github.com/pubgraph/backend/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rabbitmq/amqp091-go"
)

type fakeGraph struct {
	queryErr error
	pingErr  error
	last     query.Request
}

func (g *fakeGraph) Query(ctx context.Context, req query.Request) (*common.GraphResult, error) {
	g.last = req
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	query.RecordMatchedArticleIDs(query.TracerFrom(ctx), "1")
	b := common.NewGraphBuilder()
	b.AddNode(common.GraphNode{ID: "article:1", Label: "Article"})
	return b.Result(), nil
}

func (g *fakeGraph) Neighbourhood(ctx context.Context, articleID string, limit int) (*common.GraphResult, error) {
	if articleID != "1" {
		return nil, &common.NotFoundError{ID: articleID}
	}
	b := common.NewGraphBuilder()
	b.AddNode(common.GraphNode{ID: "article:1", Label: "Article"})
	b.AddNode(common.GraphNode{ID: "entity:Gene:7157", Label: "Entity"})
	b.AddEdge(common.GraphEdge{Source: "article:1", Target: "entity:Gene:7157", Label: "MENTIONS"})
	return b.Result(), nil
}

func (g *fakeGraph) Stats(ctx context.Context) (store.Stats, error) {
	return store.Stats{Articles: 3, Similarities: 1}, nil
}

func (g *fakeGraph) Ping(ctx context.Context) error { return g.pingErr }

type fakeChannel struct {
	keys    []string
	failPub bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.failPub {
		return errors.New("channel closed")
	}
	f.keys = append(f.keys, key)
	return nil
}

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (m *memS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func do(t *testing.T, a *mid.App, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	New(a).ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, &mid.App{Graph: &fakeGraph{}}, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, &mid.App{Graph: &fakeGraph{pingErr: errors.New("down")}}, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestQueryGraph(t *testing.T) {
	g := &fakeGraph{}
	rec := do(t, &mid.App{Graph: g}, http.MethodPost, "/api/graph/query", `{"text":" tp53 ","trace":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if g.last.Text != "tp53" || g.last.Limit != query.DefaultLimit {
		t.Fatalf("expected normalized request, got %+v", g.last)
	}

	var resp struct {
		Nodes []common.GraphNode        `json:"nodes"`
		Edges []common.GraphEdge        `json:"edges"`
		Trace *query.QueryTraceSnapshot `json:"trace"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(resp.Nodes) != 1 || resp.Edges == nil {
		t.Fatalf("expected one node and an edge list, got %s", rec.Body.String())
	}
	if resp.Trace == nil || len(resp.Trace.MatchedArticleIDs) != 1 {
		t.Fatalf("expected trace with one article, got %s", rec.Body.String())
	}
}

func TestQueryGraphErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"empty", `{}`, nil, http.StatusBadRequest},
		{"unsafe", `{"cypher":"MATCH (n) DETACH DELETE n"}`, nil, http.StatusBadRequest},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"limit", `{"text":"x","limit":1000}`, nil, http.StatusBadRequest},
		{"syntax", `{"cypher":"MATCH (n RETURN n"}`, &query.SyntaxError{Message: "bad"}, http.StatusBadRequest},
		{"unsupported", `{"cypher":"MATCH (n) RETURN n"}`, query.ErrUnsupported, http.StatusNotImplemented},
		{"unavailable", `{"text":"x"}`, fmt.Errorf("%w: dial", query.ErrUnavailable), http.StatusServiceUnavailable},
		{"timeout", `{"text":"x"}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", `{"text":"x"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, &mid.App{Graph: &fakeGraph{queryErr: tt.err}}, http.MethodPost, "/api/graph/query", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Fatalf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestNeighbourhood(t *testing.T) {
	a := &mid.App{Graph: &fakeGraph{}}

	rec := do(t, a, http.MethodGet, "/api/articles/PMID:1/neighbourhood", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res common.GraphResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(res.Nodes) != 2 || len(res.Edges) != 1 {
		t.Fatalf("expected 2 nodes and 1 edge, got %+v", res)
	}

	if rec := do(t, a, http.MethodGet, "/api/articles/2/neighbourhood", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, a, http.MethodGet, "/api/articles/1/neighbourhood?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	rec := do(t, &mid.App{Graph: &fakeGraph{}}, http.MethodGet, "/api/stats", "")
	var stats store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if stats.Articles != 3 || stats.Similarities != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestIngest(t *testing.T) {
	ch := &fakeChannel{}
	a := &mid.App{Graph: &fakeGraph{}, Queue: ch}

	rec := do(t, a, http.MethodPost, "/api/ingest", `{"ids":["PMID:1","2"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RunID string   `json:"run_id"`
		IDs   []string `json:"ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resp.RunID == "" || len(resp.IDs) != 2 {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}
	if len(ch.keys) != 1 || ch.keys[0] != "ingest_queue" {
		t.Fatalf("expected one ingest publish, got %v", ch.keys)
	}

	if rec := do(t, a, http.MethodPost, "/api/ingest", `{"ids":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(t, a, http.MethodPost, "/api/ingest", `{"ids":["../../etc/passwd"]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}
	if len(ch.keys) != 1 {
		t.Fatalf("expected invalid ingest not published, got %v", ch.keys)
	}
	if rec := do(t, a, http.MethodPost, "/api/similarity/rebuild", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	ch.failPub = true
	if rec := do(t, a, http.MethodPost, "/api/ingest", `{"query":"tp53"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := do(t, &mid.App{Graph: &fakeGraph{}}, http.MethodPost, "/api/ingest", `{"ids":["1"]}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without queue, got %d", rec.Code)
	}
}

func TestRuns(t *testing.T) {
	reports := storage.New(&memS3{objects: make(map[string][]byte)}, "bucket", "reports", "articles")
	_, err := reports.PutReport(context.Background(), &pipeline.Report{
		RunID:     "abc",
		Succeeded: []string{"1"},
		Failed:    []pipeline.Failure{{ID: "2", Stage: pipeline.StageParse, Kind: common.KindMalformedDocument}},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	a := &mid.App{Graph: &fakeGraph{}, Reports: reports}

	rec := do(t, a, http.MethodGet, "/api/runs", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"abc"`) {
		t.Fatalf("expected run list, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, a, http.MethodGet, "/api/runs/abc", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"MalformedDocument":1`) {
		t.Fatalf("expected report, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, a, http.MethodGet, "/api/runs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, &mid.App{Graph: &fakeGraph{}}, http.MethodGet, "/api/runs", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without storage, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	a := &mid.App{Graph: &fakeGraph{}, APIKey: "secret"}

	if rec := do(t, a, http.MethodGet, "/api/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, a, http.MethodGet, "/api/stats", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, a, http.MethodGet, "/api/stats", "", "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, a, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected open health check, got %d", rec.Code)
	}
}
