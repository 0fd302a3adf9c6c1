package neo4j

import (
	"context"
	"fmt"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/similarity"
	"github.com/pubgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const similarityChunkSize = 500

const upsertArticleQuery = `
MERGE (a:Article {id: $article.id})
SET a.title = $article.title,
    a.abstract = $article.abstract,
    a.journal = $article.journal,
    a.year = $article.year,
    a.pmcid = $article.pmcid,
    a.authors = $article.authors,
    a.embedding = $article.embedding
`

// A name equal to the identifier is the placeholder of a relation-only
// entity and gets replaced by the first mention.
const upsertEntitiesQuery = `
UNWIND $entities AS e
MERGE (n:Entity {normalizedId: e.key})
ON CREATE SET n.type = e.type, n.name = e.name, n.identifier = e.identifier
ON MATCH SET n.name = CASE
    WHEN e.mentions > 0 AND (n.name IS NULL OR n.name = '' OR n.name = n.identifier) THEN e.name
    ELSE n.name END
`

const upsertMentionsQuery = `
MATCH (a:Article {id: $id})
UNWIND $mentions AS m
MATCH (n:Entity {normalizedId: m.key})
MERGE (a)-[r:MENTIONS]->(n)
SET r.count = m.count
`

const deleteStaleMentionsQuery = `
MATCH (a:Article {id: $id})-[r:MENTIONS]->(n:Entity)
WHERE NOT n.normalizedId IN $keys
DELETE r
`

const upsertRelationsQuery = `
UNWIND $relations AS rel
MATCH (s:Entity {normalizedId: rel.source})
MATCH (t:Entity {normalizedId: rel.target})
MERGE (s)-[r:RELATION {key: rel.key}]->(t)
SET r.type = rel.type, r.article = rel.article, r.score = rel.score
`

const deleteStaleRelationsQuery = `
MATCH (:Entity)-[r:RELATION {article: $id}]->(:Entity)
WHERE NOT r.key IN $keys
DELETE r
`

const upsertAuthorsQuery = `
MATCH (a:Article {id: $id})
UNWIND $authors AS name
MERGE (p:Author {name: name})
MERGE (p)-[:AUTHORED]->(a)
`

const deleteStaleAuthorsQuery = `
MATCH (p:Author)-[r:AUTHORED]->(:Article {id: $id})
WHERE NOT p.name IN $authors
DELETE r
`

const upsertSimilaritiesQuery = `
UNWIND $edges AS e
MATCH (a:Article {id: e.a})
MATCH (b:Article {id: e.b})
MERGE (a)-[r:SIMILAR_TO]->(b)
SET r.score = e.score
`

const deleteSimilaritiesQuery = `
MATCH (a:Article)-[r:SIMILAR_TO]-(:Article)
WHERE a.id IN $ids
DELETE r
`

const scanEmbeddingsQuery = `
MATCH (a:Article)
WHERE a.id > $after AND a.embedding IS NOT NULL AND NOT a.id IN $exclude
RETURN a.id AS id, a.embedding AS embedding
ORDER BY a.id
LIMIT $limit
`

const statsQuery = `
CALL {
  MATCH (a:Article) RETURN count(a) AS articles
}
CALL {
  MATCH (e:Entity) RETURN count(e) AS entities
}
CALL {
  MATCH (p:Author) RETURN count(p) AS authors
}
CALL {
  MATCH (:Article)-[r:MENTIONS]->(:Entity) RETURN count(r) AS mentions
}
CALL {
  MATCH (:Entity)-[r:RELATION]->(:Entity) RETURN count(r) AS relations
}
CALL {
  MATCH (:Article)-[r:SIMILAR_TO]->(:Article) RETURN count(r) AS similarities
}
RETURN articles, entities, authors, mentions, relations, similarities
`

type statement struct {
	query  string
	params map[string]any
}

// articleStatements returns the ordered writes for one article graph.
func articleStatements(g store.ArticleGraph) []statement {
	id := g.Article.ID

	authors := g.Authors()
	if authors == nil {
		authors = []string{}
	}
	article := map[string]any{
		"id":        id,
		"title":     g.Article.Title,
		"abstract":  g.Article.Abstract,
		"journal":   g.Article.Journal,
		"year":      g.Article.Year,
		"pmcid":     g.Article.PMCID,
		"authors":   authors,
		"embedding": toFloat64s(g.Embedding),
	}

	entities := make([]map[string]any, 0, len(g.Entities))
	mentions := make([]map[string]any, 0, len(g.Entities))
	mentionKeys := make([]string, 0, len(g.Entities))
	for _, e := range g.Entities {
		entities = append(entities, map[string]any{
			"key":        e.Key,
			"type":       e.Type,
			"name":       e.Name,
			"identifier": e.Identifier,
			"mentions":   int64(e.Mentions),
		})
		if e.Mentions > 0 {
			mentions = append(mentions, map[string]any{"key": e.Key, "count": int64(e.Mentions)})
			mentionKeys = append(mentionKeys, e.Key)
		}
	}

	relations := make([]map[string]any, 0, len(g.Relations))
	relationKeys := make([]string, 0, len(g.Relations))
	for _, r := range g.Relations {
		relations = append(relations, map[string]any{
			"key":     r.Key,
			"article": r.ArticleID,
			"type":    r.Type,
			"source":  r.Source,
			"target":  r.Target,
			"score":   r.Score,
		})
		relationKeys = append(relationKeys, r.Key)
	}

	return []statement{
		{upsertArticleQuery, map[string]any{"article": article}},
		{upsertEntitiesQuery, map[string]any{"entities": entities}},
		{upsertMentionsQuery, map[string]any{"id": id, "mentions": mentions}},
		{deleteStaleMentionsQuery, map[string]any{"id": id, "keys": mentionKeys}},
		{upsertRelationsQuery, map[string]any{"relations": relations}},
		{deleteStaleRelationsQuery, map[string]any{"id": id, "keys": relationKeys}},
		{upsertAuthorsQuery, map[string]any{"id": id, "authors": authors}},
		{deleteStaleAuthorsQuery, map[string]any{"id": id, "authors": authors}},
	}
}

func (s *Neo4jStore) UpsertArticle(ctx context.Context, g store.ArticleGraph) error {
	if g.Article.ID == "" {
		return fmt.Errorf("article without id")
	}
	return common.NewPersistenceError("upsert article", s.write(ctx, articleStatements(g)))
}

func similarityParams(edges []common.SimilarityEdge) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(edges))
	seen := make(map[string]int, len(edges))
	for _, e := range edges {
		edge, err := common.NewSimilarityEdge(e.A, e.B, e.Score)
		if err != nil {
			return nil, err
		}
		row := map[string]any{"a": edge.A, "b": edge.B, "score": edge.Score}
		if i, ok := seen[edge.Key()]; ok {
			out[i] = row
			continue
		}
		seen[edge.Key()] = len(out)
		out = append(out, row)
	}
	return out, nil
}

func (s *Neo4jStore) UpsertSimilarities(ctx context.Context, edges []common.SimilarityEdge) error {
	rows, err := similarityParams(edges)
	if err != nil {
		return common.NewPersistenceError("upsert similarities", err)
	}
	err = store.ChunkRange(len(rows), similarityChunkSize, func(start, end int) error {
		return s.write(ctx, []statement{{upsertSimilaritiesQuery, map[string]any{"edges": rows[start:end]}}})
	})
	return common.NewPersistenceError("upsert similarities", err)
}

// ReplaceSimilarities drops every edge touching ids and writes edges in one
// transaction.
func (s *Neo4jStore) ReplaceSimilarities(ctx context.Context, ids []string, edges []common.SimilarityEdge) error {
	rows, err := similarityParams(edges)
	if err != nil {
		return common.NewPersistenceError("replace similarities", err)
	}
	if ids == nil {
		ids = []string{}
	}
	stmts := []statement{{deleteSimilaritiesQuery, map[string]any{"ids": ids}}}
	_ = store.ChunkRange(len(rows), similarityChunkSize, func(start, end int) error {
		stmts = append(stmts, statement{upsertSimilaritiesQuery, map[string]any{"edges": rows[start:end]}})
		return nil
	})
	return common.NewPersistenceError("replace similarities", s.write(ctx, stmts))
}

func (s *Neo4jStore) write(ctx context.Context, stmts []statement) error {
	session := s.session(ctx, neo4jv5.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.query, st.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *Neo4jStore) ScanEmbeddings(ctx context.Context, pageSize int, exclude []string, fn func([]similarity.Vector) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	if exclude == nil {
		exclude = []string{}
	}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.readEmbeddings(ctx, after, exclude, pageSize)
		if err != nil {
			return common.NewPersistenceError("scan embeddings", err)
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (s *Neo4jStore) readEmbeddings(ctx context.Context, after string, exclude []string, limit int) ([]similarity.Vector, error) {
	session := s.session(ctx, neo4jv5.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, scanEmbeddingsQuery, map[string]any{
			"after":   after,
			"exclude": exclude,
			"limit":   int64(limit),
		})
		if err != nil {
			return nil, err
		}
		page := make([]similarity.Vector, 0, limit)
		for res.Next(ctx) {
			rec := res.Record()
			id, _, err := neo4jv5.GetRecordValue[string](rec, "id")
			if err != nil {
				return nil, err
			}
			raw, _, err := neo4jv5.GetRecordValue[[]any](rec, "embedding")
			if err != nil {
				return nil, err
			}
			values, err := toFloat32s(raw)
			if err != nil {
				return nil, fmt.Errorf("article %s: %w", id, err)
			}
			page = append(page, similarity.Vector{ID: id, Values: values})
		}
		return page, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]similarity.Vector), nil
}

func (s *Neo4jStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	session := s.session(ctx, neo4jv5.AccessModeRead)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, statsQuery, nil)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		for key, dst := range map[string]*int64{
			"articles":     &st.Articles,
			"entities":     &st.Entities,
			"authors":      &st.Authors,
			"mentions":     &st.Mentions,
			"relations":    &st.Relations,
			"similarities": &st.Similarities,
		} {
			v, _, err := neo4jv5.GetRecordValue[int64](rec, key)
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		return nil, nil
	})
	return st, common.NewPersistenceError("stats", err)
}

func toFloat64s(v []float32) []float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32s(raw []any) ([]float32, error) {
	out := make([]float32, len(raw))
	for i, v := range raw {
		switch f := v.(type) {
		case float64:
			out[i] = float32(f)
		case int64:
			out[i] = float32(f)
		default:
			return nil, fmt.Errorf("embedding component %d has type %T", i, v)
		}
	}
	return out, nil
}
