package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/similarity"
	"github.com/pubgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const similarityBatchSize = 1000

const upsertArticleSQL = `
INSERT INTO articles (id, title, abstract, journal, year, pmcid, authors, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (id) DO UPDATE
SET title      = EXCLUDED.title,
    abstract   = EXCLUDED.abstract,
    journal    = EXCLUDED.journal,
    year       = EXCLUDED.year,
    pmcid      = EXCLUDED.pmcid,
    authors    = EXCLUDED.authors,
    embedding  = EXCLUDED.embedding,
    updated_at = now()
`

// Mentioned entities replace a missing or placeholder name.
const upsertMentionedEntitiesSQL = `
INSERT INTO entities (key, type, name, identifier)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
ON CONFLICT (key) DO UPDATE
SET name = CASE
        WHEN entities.name = '' OR entities.name = entities.identifier THEN EXCLUDED.name
        ELSE entities.name
    END,
    type = CASE WHEN entities.type = '' THEN EXCLUDED.type ELSE entities.type END
`

const insertReferencedEntitiesSQL = `
INSERT INTO entities (key, type, name, identifier)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
ON CONFLICT (key) DO NOTHING
`

const upsertMentionsSQL = `
INSERT INTO mentions (article_id, entity_key, count)
SELECT $1, k, c FROM unnest($2::text[], $3::int[]) AS t(k, c)
ON CONFLICT (article_id, entity_key) DO UPDATE
SET count = EXCLUDED.count
`

const deleteStaleMentionsSQL = `
DELETE FROM mentions
WHERE article_id = $1 AND NOT (entity_key = ANY($2::text[]))
`

const upsertRelationsSQL = `
INSERT INTO relations (key, article_id, type, source_key, target_key, score)
SELECT k, $1, t, s, d, sc FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::float8[]) AS r(k, t, s, d, sc)
ON CONFLICT (key) DO UPDATE
SET type = EXCLUDED.type,
    score = EXCLUDED.score
`

const deleteStaleRelationsSQL = `
DELETE FROM relations
WHERE article_id = $1 AND NOT (key = ANY($2::text[]))
`

const upsertAuthorsSQL = `
INSERT INTO authors (name)
SELECT unnest($1::text[])
ON CONFLICT (name) DO NOTHING
`

const upsertAuthoredSQL = `
INSERT INTO authored (author_name, article_id)
SELECT n, $1 FROM unnest($2::text[]) AS n
ON CONFLICT DO NOTHING
`

const deleteStaleAuthoredSQL = `
DELETE FROM authored
WHERE article_id = $1 AND NOT (author_name = ANY($2::text[]))
`

const upsertSimilaritiesSQL = `
INSERT INTO similarities (a, b, score)
SELECT a, b, s FROM unnest($1::text[], $2::text[], $3::float8[]) AS t(a, b, s)
ON CONFLICT (a, b) DO UPDATE
SET score = EXCLUDED.score
`

const deleteSimilaritiesSQL = `
DELETE FROM similarities
WHERE a = ANY($1::text[]) OR b = ANY($1::text[])
`

const scanEmbeddingsSQL = `
SELECT id, embedding
FROM articles
WHERE id > $1 AND embedding IS NOT NULL AND NOT (id = ANY($2::text[]))
ORDER BY id
LIMIT $3
`

type entityColumns struct {
	keys, types, names, identifiers []string
}

func (c *entityColumns) add(e store.EntityNode) {
	c.keys = append(c.keys, e.Key)
	c.types = append(c.types, e.Type)
	c.names = append(c.names, e.Name)
	c.identifiers = append(c.identifiers, e.Identifier)
}

func (c *entityColumns) args() []any {
	return []any{c.keys, c.types, c.names, c.identifiers}
}

type articleRows struct {
	mentioned    entityColumns
	referenced   entityColumns
	mentionKeys  []string
	mentionCount []int32

	relKeys, relTypes, relSources, relTargets []string
	relScores                                 []float64

	authors []string
}

// splitArticleGraph turns an article graph into the column arrays bound to
// the unnest statements. Slices are never nil so ANY() filters see an empty
// array instead of NULL.
func splitArticleGraph(g store.ArticleGraph) articleRows {
	r := articleRows{
		mentionKeys:  []string{},
		mentionCount: []int32{},
		relKeys:      []string{},
		relTypes:     []string{},
		relSources:   []string{},
		relTargets:   []string{},
		relScores:    []float64{},
		authors:      []string{},
	}
	for _, e := range g.Entities {
		if e.Mentions == 0 {
			r.referenced.add(e)
			continue
		}
		r.mentioned.add(e)
		r.mentionKeys = append(r.mentionKeys, e.Key)
		r.mentionCount = append(r.mentionCount, int32(e.Mentions))
	}
	for _, rel := range g.Relations {
		r.relKeys = append(r.relKeys, rel.Key)
		r.relTypes = append(r.relTypes, rel.Type)
		r.relSources = append(r.relSources, rel.Source)
		r.relTargets = append(r.relTargets, rel.Target)
		r.relScores = append(r.relScores, rel.Score)
	}
	r.authors = append(r.authors, g.Authors()...)
	return r
}

func (s *GraphDBStorage) UpsertArticle(ctx context.Context, g store.ArticleGraph) error {
	a := g.Article
	if a.ID == "" {
		return fmt.Errorf("article without id")
	}
	rows := splitArticleGraph(g)

	var embedding *pgvector.Vector
	if len(g.Embedding) > 0 {
		v := pgvector.NewVector(g.Embedding)
		embedding = &v
	}

	err := s.inTx(ctx, func(tx pgxv5.Tx) error {
		if _, err := tx.Exec(ctx, upsertArticleSQL,
			a.ID, a.Title, a.Abstract, a.Journal, a.Year, a.PMCID, rows.authors, embedding,
		); err != nil {
			return fmt.Errorf("article: %w", err)
		}
		if len(rows.mentioned.keys) > 0 {
			if _, err := tx.Exec(ctx, upsertMentionedEntitiesSQL, rows.mentioned.args()...); err != nil {
				return fmt.Errorf("entities: %w", err)
			}
		}
		if len(rows.referenced.keys) > 0 {
			if _, err := tx.Exec(ctx, insertReferencedEntitiesSQL, rows.referenced.args()...); err != nil {
				return fmt.Errorf("entities: %w", err)
			}
		}

		stmts := []struct {
			name string
			sql  string
			args []any
		}{
			{"mentions", upsertMentionsSQL, []any{a.ID, rows.mentionKeys, rows.mentionCount}},
			{"stale mentions", deleteStaleMentionsSQL, []any{a.ID, rows.mentionKeys}},
			{"relations", upsertRelationsSQL, []any{a.ID, rows.relKeys, rows.relTypes, rows.relSources, rows.relTargets, rows.relScores}},
			{"stale relations", deleteStaleRelationsSQL, []any{a.ID, rows.relKeys}},
			{"authors", upsertAuthorsSQL, []any{rows.authors}},
			{"authored", upsertAuthoredSQL, []any{a.ID, rows.authors}},
			{"stale authored", deleteStaleAuthoredSQL, []any{a.ID, rows.authors}},
		}
		for _, st := range stmts {
			if _, err := tx.Exec(ctx, st.sql, st.args...); err != nil {
				return fmt.Errorf("%s: %w", st.name, err)
			}
		}
		return nil
	})
	return common.NewPersistenceError("upsert article", err)
}

// similarityColumns canonicalises edges and keeps the last score per pair,
// since one INSERT ... ON CONFLICT cannot touch a row twice.
func similarityColumns(edges []common.SimilarityEdge) (as, bs []string, scores []float64, err error) {
	index := make(map[string]int, len(edges))
	for _, e := range edges {
		edge, err := common.NewSimilarityEdge(e.A, e.B, e.Score)
		if err != nil {
			return nil, nil, nil, err
		}
		if i, ok := index[edge.Key()]; ok {
			scores[i] = edge.Score
			continue
		}
		index[edge.Key()] = len(as)
		as = append(as, edge.A)
		bs = append(bs, edge.B)
		scores = append(scores, edge.Score)
	}
	return as, bs, scores, nil
}

func (s *GraphDBStorage) UpsertSimilarities(ctx context.Context, edges []common.SimilarityEdge) error {
	as, bs, scores, err := similarityColumns(edges)
	if err != nil {
		return common.NewPersistenceError("upsert similarities", err)
	}
	err = store.ChunkRange(len(as), similarityBatchSize, func(start, end int) error {
		_, err := s.conn.Exec(ctx, upsertSimilaritiesSQL, as[start:end], bs[start:end], scores[start:end])
		return err
	})
	return common.NewPersistenceError("upsert similarities", err)
}

// ReplaceSimilarities drops every edge touching ids and writes edges in one
// transaction.
func (s *GraphDBStorage) ReplaceSimilarities(ctx context.Context, ids []string, edges []common.SimilarityEdge) error {
	as, bs, scores, err := similarityColumns(edges)
	if err != nil {
		return common.NewPersistenceError("replace similarities", err)
	}
	if ids == nil {
		ids = []string{}
	}
	err = s.inTx(ctx, func(tx pgxv5.Tx) error {
		if _, err := tx.Exec(ctx, deleteSimilaritiesSQL, ids); err != nil {
			return err
		}
		return store.ChunkRange(len(as), similarityBatchSize, func(start, end int) error {
			_, err := tx.Exec(ctx, upsertSimilaritiesSQL, as[start:end], bs[start:end], scores[start:end])
			return err
		})
	})
	return common.NewPersistenceError("replace similarities", err)
}

func (s *GraphDBStorage) ScanEmbeddings(ctx context.Context, pageSize int, exclude []string, fn func([]similarity.Vector) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	if exclude == nil {
		exclude = []string{}
	}
	after := ""
	for {
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

func (s *GraphDBStorage) readEmbeddings(ctx context.Context, after string, exclude []string, limit int) ([]similarity.Vector, error) {
	rows, err := s.conn.Query(ctx, scanEmbeddingsSQL, after, exclude, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]similarity.Vector, 0, limit)
	for rows.Next() {
		var id string
		var emb pgvector.Vector
		if err := rows.Scan(&id, &emb); err != nil {
			return nil, err
		}
		page = append(page, similarity.Vector{ID: id, Values: emb.Slice()})
	}
	return page, rows.Err()
}

func (s *GraphDBStorage) inTx(ctx context.Context, fn func(tx pgxv5.Tx) error) (err error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgxv5.ErrTxClosed) {
				err = errors.Join(err, rbErr)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
