package query

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestIsSafeCypher(t *testing.T) {
	tests := []struct {
		query string
		safe  bool
	}{
		{"MATCH (a:Article) RETURN a LIMIT 10", true},
		{"  match (a)-[:SIMILAR_TO]->(b) return a, b", true},
		{"OPTIONAL MATCH (e:Entity) RETURN e", true},
		{"WITH 1 AS x RETURN x", true},
		{"// top genes\nMATCH (e:Entity {type: 'Gene'}) RETURN e", true},
		{"MATCH (a:Article) WHERE a.title CONTAINS 'CREATE' RETURN a", true},
		{"MATCH (a) WHERE a.url = 'http://example.org' RETURN a", true},
		{"CREATE (a:Article {id: '1'})", false},
		{"MATCH (a) DETACH DELETE a", false},
		{"MATCH (a) SET a.title = 'x' RETURN a", false},
		{"MATCH (a) MERGE (b:Article {id: a.id}) RETURN b", false},
		{"MATCH (a) CALL apoc.do.it() RETURN a", false},
		{"MATCH (a) call dbms.killQueries([]) RETURN a", false},
		{"CALL db.labels()", false},
		{"MATCH (a) RETURN a; MATCH (b) DELETE b", false},
		{"/* MATCH */ DROP CONSTRAINT x", false},
		{"", false},
		{"// only a comment", false},
	}
	for _, tt := range tests {
		if got := IsSafeCypher(tt.query); got != tt.safe {
			t.Errorf("expected IsSafeCypher(%q) = %v, got %v", tt.query, tt.safe, got)
		}
	}
}

func TestRequestNormalize(t *testing.T) {
	r, err := Request{Text: "  BRCA1 "}.Normalize()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if r.Text != "BRCA1" || r.Limit != DefaultLimit {
		t.Fatalf("expected trimmed text and default limit, got %+v", r)
	}

	r, err = Request{Text: "x", Limit: 10000}.Normalize()
	if err != nil || r.Limit != MaxLimit {
		t.Fatalf("expected limit capped at %d, got %d (%v)", MaxLimit, r.Limit, err)
	}

	if _, err := (Request{}).Normalize(); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := (Request{Cypher: "MATCH (n) DELETE n"}).Normalize(); !errors.Is(err, ErrUnsafeQuery) {
		t.Fatalf("expected ErrUnsafeQuery, got %v", err)
	}
}

func TestQueryTrace(t *testing.T) {
	trace := NewQueryTrace()
	ctx := WithTracer(context.Background(), MultiTracer{trace, nil})

	tr := TracerFrom(ctx)
	RecordMatchedArticleIDs(tr, "2", "1", "", "2")
	RecordMatchedEntityKeys(tr, "7157")
	RecordCypher(tr, "MATCH (n) RETURN n", 5, errors.New("boom"))

	s := trace.Snapshot()
	if !reflect.DeepEqual(s.MatchedArticleIDs, []string{"1", "2"}) {
		t.Fatalf("expected [1 2], got %v", s.MatchedArticleIDs)
	}
	if !reflect.DeepEqual(s.MatchedEntityKeys, []string{"7157"}) {
		t.Fatalf("expected [7157], got %v", s.MatchedEntityKeys)
	}
	if s.DurationMs != 5 || len(s.Errors) != 1 || len(s.Statements) != 1 {
		t.Fatalf("unexpected cypher trace %+v", s)
	}

	if TracerFrom(context.Background()) != nil {
		t.Fatal("expected no tracer on a bare context")
	}
	RecordMatchedArticleIDs(nil, "1")
}
