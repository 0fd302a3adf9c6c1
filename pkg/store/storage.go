package store

import (
	"context"
	"sort"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/similarity"
)

// GraphWriter persists articles and the graph derived from them. Every write
// is a merge by key, so repeating a write with the same input leaves the
// store unchanged. Connectivity problems surface as *common.PersistenceError;
// writers never retry on their own.
type GraphWriter interface {
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	// UpsertArticle writes the article node with its embedding, its entities,
	// MENTIONS and RELATION edges and its authors. MENTIONS and RELATION edges
	// previously written for the same article but absent from g are removed.
	UpsertArticle(ctx context.Context, g ArticleGraph) error
	// UpsertSimilarities merges SIMILAR_TO edges by their canonical pair.
	UpsertSimilarities(ctx context.Context, edges []common.SimilarityEdge) error
	// ReplaceSimilarities removes every SIMILAR_TO edge incident to ids and
	// then merges edges, atomically.
	ReplaceSimilarities(ctx context.Context, ids []string, edges []common.SimilarityEdge) error

	// ScanEmbeddings pages through all persisted article vectors ordered by
	// id, skipping exclude.
	ScanEmbeddings(ctx context.Context, pageSize int, exclude []string, fn func([]similarity.Vector) error) error

	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

// Stats counts what is stored.
type Stats struct {
	Articles     int64 `json:"articles"`
	Entities     int64 `json:"entities"`
	Authors      int64 `json:"authors"`
	Mentions     int64 `json:"mentions"`
	Relations    int64 `json:"relations"`
	Similarities int64 `json:"similarities"`
}

// EntityNode is an entity as written for one article. Mentions is zero for
// entities only referenced by a relation.
type EntityNode struct {
	common.Entity
	Mentions int
}

// RelationEdge is a relation with both endpoints resolved to entity keys.
type RelationEdge struct {
	Key       string
	ArticleID string
	Type      string
	Source    string
	Target    string
	Score     float64
}

// ArticleGraph is everything written for one article.
type ArticleGraph struct {
	Article   common.Article
	Embedding []float32
	Entities  []EntityNode
	Relations []RelationEdge
}

// NewArticleGraph derives entity nodes and relation edges from a parsed
// article. Relation endpoints that were never mentioned become entity nodes
// named by their identifier. Entities and relations are sorted by key.
func NewArticleGraph(a common.Article, embedding []float32) ArticleGraph {
	entities, counts := a.Entities()
	nodes := make(map[string]EntityNode, len(entities))
	for _, e := range entities {
		nodes[e.Key] = EntityNode{Entity: e, Mentions: counts[e.Key]}
	}

	rels := make(map[string]RelationEdge, len(a.Relations))
	for _, r := range a.Relations {
		for _, ref := range []common.EntityRef{r.Source, r.Target} {
			key := ref.Key()
			if _, ok := nodes[key]; ok {
				continue
			}
			id := ""
			if common.IsResolvableIdentifier(ref.Identifier) {
				id = ref.Identifier
			}
			nodes[key] = EntityNode{Entity: common.Entity{Key: key, Type: ref.Type, Name: ref.Identifier, Identifier: id}}
		}
		edge := RelationEdge{
			Key:       r.Key(),
			ArticleID: a.ID,
			Type:      r.Type,
			Source:    r.Source.Key(),
			Target:    r.Target.Key(),
			Score:     r.Score,
		}
		rels[edge.Key] = edge
	}

	g := ArticleGraph{
		Article:   a,
		Embedding: embedding,
		Entities:  make([]EntityNode, 0, len(nodes)),
		Relations: make([]RelationEdge, 0, len(rels)),
	}
	for _, n := range nodes {
		g.Entities = append(g.Entities, n)
	}
	for _, r := range rels {
		g.Relations = append(g.Relations, r)
	}
	sort.Slice(g.Entities, func(i, j int) bool { return g.Entities[i].Key < g.Entities[j].Key })
	sort.Slice(g.Relations, func(i, j int) bool { return g.Relations[i].Key < g.Relations[j].Key })
	return g
}

// Authors returns the distinct author names in document order.
func (g ArticleGraph) Authors() []string {
	return DedupeStrings(g.Article.Authors)
}
