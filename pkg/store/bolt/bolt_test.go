package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/query"
	"github.com/pubgraph/backend/pkg/similarity"
	"github.com/pubgraph/backend/pkg/store"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	return s
}

func testArticle(id string) common.Article {
	return common.Article{
		ID:       id,
		Title:    "TP53 mutations in breast cancer",
		Abstract: "We studied TP53 and BRCA1.",
		Journal:  "Nature",
		Year:     "2020",
		Authors:  []string{"Doe J", "Roe R"},
		Mentions: []common.EntityMention{
			{ID: "1", ArticleID: id, Type: "Gene", Text: "TP53", Identifier: "7157", Spans: []common.Span{{Passage: common.PassageTitle, Offset: 0, Length: 4}}},
			{ID: "2", ArticleID: id, Type: "Disease", Text: "breast cancer", Identifier: "MESH:D001943", Spans: []common.Span{{Passage: common.PassageTitle, Offset: 18, Length: 13}}},
			{ID: "3", ArticleID: id, Type: "Gene", Text: "TP53", Identifier: "7157", Spans: []common.Span{{Passage: common.PassageAbstract, Offset: 11, Length: 4}}},
		},
		Relations: []common.Relation{
			{ID: "R1", ArticleID: id, Type: "Association", Source: common.EntityRef{Type: "Gene", Identifier: "7157"}, Target: common.EntityRef{Type: "Disease", Identifier: "MESH:D001943"}},
			{ID: "R2", ArticleID: id, Type: "Association", Source: common.EntityRef{Type: "Gene", Identifier: "672"}, Target: common.EntityRef{Type: "Disease", Identifier: "MESH:D001943"}},
		},
	}
}

func TestUpsertArticleIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := store.NewArticleGraph(testArticle("1"), []float32{1, 0, 0})

	if err := s.UpsertArticle(ctx, g); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	first, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := store.Stats{Articles: 1, Entities: 3, Authors: 2, Mentions: 2, Relations: 2}
	if first != want {
		t.Fatalf("expected %+v, got %+v", want, first)
	}

	if err := s.UpsertArticle(ctx, g); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, _ := s.Stats(ctx)
	if second != first {
		t.Fatalf("expected stats unchanged after rerun, got %+v", second)
	}
}

func TestUpsertArticleRemovesStaleEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testArticle("1")
	if err := s.UpsertArticle(ctx, store.NewArticleGraph(a, []float32{1, 0, 0})); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	a.Mentions = a.Mentions[:1]
	a.Relations = nil
	a.Authors = []string{"Doe J"}
	if err := s.UpsertArticle(ctx, store.NewArticleGraph(a, []float32{1, 0, 0})); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	st, _ := s.Stats(ctx)
	if st.Mentions != 1 || st.Relations != 0 {
		t.Fatalf("expected 1 mention and 0 relations, got %+v", st)
	}
	// entity and author nodes are shared and stay
	if st.Entities != 3 || st.Authors != 2 {
		t.Fatalf("expected shared nodes kept, got %+v", st)
	}

	res, err := s.Neighbourhood(ctx, "1", 0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	authored := 0
	for _, e := range res.Edges {
		if e.Label == store.EdgeAuthored {
			authored++
		}
	}
	if authored != 1 {
		t.Fatalf("expected 1 AUTHORED edge, got %d", authored)
	}
}

func TestEntityNamePrefersMention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 672 is only referenced by a relation in article 1
	if err := s.UpsertArticle(ctx, store.NewArticleGraph(testArticle("1"), nil)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	b := common.Article{
		ID:    "2",
		Title: "BRCA1",
		Mentions: []common.EntityMention{
			{ID: "1", ArticleID: "2", Type: "Gene", Text: "BRCA1", Identifier: "672", Spans: []common.Span{{Passage: common.PassageTitle, Length: 5}}},
		},
	}
	if err := s.UpsertArticle(ctx, store.NewArticleGraph(b, nil)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	res, err := s.Query(ctx, query.Request{Text: "brca1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	var name any
	for _, n := range res.Nodes {
		if n.ID == store.EntityNodeID("672") {
			name = n.Properties["name"]
		}
	}
	if name != "BRCA1" {
		t.Fatalf("expected entity 672 named BRCA1, got %v", name)
	}
}

func TestUpsertSimilarities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2"} {
		if err := s.UpsertArticle(ctx, store.NewArticleGraph(testArticle(id), []float32{1, 0})); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}
	edges := []common.SimilarityEdge{{A: "2", B: "1", Score: 0.9}, {A: "1", B: "2", Score: 0.95}}
	if err := s.UpsertSimilarities(ctx, edges); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	st, _ := s.Stats(ctx)
	if st.Similarities != 1 {
		t.Fatalf("expected one canonical edge, got %d", st.Similarities)
	}

	res, err := s.Neighbourhood(ctx, "2", 0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	found := false
	for _, e := range res.Edges {
		if e.Label == store.EdgeSimilarTo {
			found = true
			if e.Source != store.ArticleNodeID("1") || e.Properties["score"] != 0.95 {
				t.Fatalf("unexpected similarity edge %+v", e)
			}
		}
	}
	if !found {
		t.Fatal("expected a SIMILAR_TO edge")
	}

	if err := s.UpsertSimilarities(ctx, []common.SimilarityEdge{{A: "1", B: "1"}}); !errors.Is(err, common.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure for self edge, got %v", err)
	}
}

func TestReplaceSimilarities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		if err := s.UpsertArticle(ctx, store.NewArticleGraph(testArticle(id), []float32{1, 0})); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}
	edges := []common.SimilarityEdge{{A: "1", B: "2", Score: 0.9}, {A: "1", B: "3", Score: 0.85}}
	if err := s.UpsertSimilarities(ctx, edges); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if err := s.ReplaceSimilarities(ctx, []string{"2"}, []common.SimilarityEdge{{A: "3", B: "2", Score: 0.99}}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	st, _ := s.Stats(ctx)
	if st.Similarities != 2 {
		t.Fatalf("expected 2 edges, got %d", st.Similarities)
	}
	res, err := s.Neighbourhood(ctx, "2", 0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for _, e := range res.Edges {
		if e.Label == store.EdgeSimilarTo && (e.Source == store.ArticleNodeID("1") || e.Target == store.ArticleNodeID("1")) {
			t.Fatalf("expected edge 1-2 removed, got %+v", e)
		}
	}

	if err := s.ReplaceSimilarities(ctx, []string{"1", "3"}, nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	st, _ = s.Stats(ctx)
	if st.Similarities != 0 {
		t.Fatalf("expected no edges, got %d", st.Similarities)
	}
}

func TestScanEmbeddingsPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		emb := []float32{1, 0}
		if id == "4" {
			emb = nil
		}
		if err := s.UpsertArticle(ctx, store.NewArticleGraph(common.Article{ID: id, Title: "t"}, emb)); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}

	var pages [][]string
	err := s.ScanEmbeddings(ctx, 2, []string{"2"}, func(page []similarity.Vector) error {
		var ids []string
		for _, v := range page {
			ids = append(ids, v.ID)
		}
		pages = append(pages, ids)
		// writing from inside the callback must not deadlock
		return s.UpsertSimilarities(ctx, []common.SimilarityEdge{{A: page[0].ID, B: "9", Score: 0.9}})
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := [][]string{{"1", "3"}, {"5", "6"}, {"7"}}
	if !reflect.DeepEqual(pages, want) {
		t.Fatalf("expected %v, got %v", want, pages)
	}

	boom := errors.New("boom")
	if err := s.ScanEmbeddings(ctx, 2, nil, func([]similarity.Vector) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertArticle(ctx, store.NewArticleGraph(testArticle("1"), []float32{1})); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	trace := query.NewQueryTrace()
	res, err := s.Query(query.WithTracer(ctx, trace), query.Request{Text: "breast"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !hasNode(res, store.ArticleNodeID("1")) || !hasNode(res, store.EntityNodeID("MESH:D001943")) {
		t.Fatalf("expected article and disease nodes, got %+v", res.Nodes)
	}
	snap := trace.Snapshot()
	if !reflect.DeepEqual(snap.MatchedArticleIDs, []string{"1"}) {
		t.Fatalf("expected matched article 1, got %v", snap.MatchedArticleIDs)
	}
	if !reflect.DeepEqual(snap.MatchedEntityKeys, []string{"MESH:D001943"}) {
		t.Fatalf("expected matched disease, got %v", snap.MatchedEntityKeys)
	}

	res, err = s.Query(ctx, query.Request{Text: "nothing like this"})
	if err != nil || len(res.Nodes) != 0 || res.Edges == nil {
		t.Fatalf("expected empty result, got %+v (%v)", res, err)
	}

	if _, err := s.Query(ctx, query.Request{Cypher: "MATCH (n) RETURN n"}); !errors.Is(err, query.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := s.Query(ctx, query.Request{}); !errors.Is(err, query.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestNeighbourhoodNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Neighbourhood(context.Background(), "404", 10)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMissingSchema(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer s.Close(context.Background())
	err = s.UpsertArticle(context.Background(), store.NewArticleGraph(common.Article{ID: "1"}, nil))
	if !errors.Is(err, common.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
}

func hasNode(res *common.GraphResult, id string) bool {
	for _, n := range res.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
