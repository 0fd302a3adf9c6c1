package pgx

import (
	"context"
	"errors"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/query"
	"github.com/pubgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const articleColumns = `id, title, abstract, journal, year, pmcid, authors`

const searchArticlesSQL = `
SELECT ` + articleColumns + `
FROM articles
WHERE strpos(lower(title), lower($1)) > 0 OR strpos(lower(abstract), lower($1)) > 0
ORDER BY id
LIMIT $2
`

const searchEntitiesSQL = `
SELECT key, type, name, identifier
FROM entities
WHERE strpos(lower(name), lower($1)) > 0 OR lower(key) = lower($1)
ORDER BY key
LIMIT $2
`

const getArticleSQL = `SELECT ` + articleColumns + ` FROM articles WHERE id = $1`

const articleMentionsSQL = `
SELECT m.article_id, m.count, e.key, e.type, e.name, e.identifier
FROM mentions m
JOIN entities e ON e.key = m.entity_key
WHERE m.article_id = ANY($1::text[])
ORDER BY m.article_id, e.key
LIMIT $2
`

const entityArticlesSQL = `
SELECT m.entity_key, m.count, ` + articleColumns + `
FROM mentions m
JOIN articles a ON a.id = m.article_id
WHERE m.entity_key = ANY($1::text[])
ORDER BY m.entity_key, a.id
LIMIT $2
`

const articleRelationsSQL = `
SELECT key, article_id, type, source_key, target_key, score
FROM relations
WHERE article_id = $1
ORDER BY key
LIMIT $2
`

const articleAuthorsSQL = `SELECT author_name FROM authored WHERE article_id = $1 ORDER BY author_name`

const similarArticlesSQL = `
SELECT s.a, s.b, s.score, ` + articleColumns + `
FROM similarities s
JOIN articles a ON a.id = CASE WHEN s.a = $1 THEN s.b ELSE s.a END
WHERE s.a = $1 OR s.b = $1
ORDER BY s.score DESC
LIMIT $2
`

// Query runs a case-insensitive substring search over titles, abstracts and
// entity names. Raw Cypher is not supported on Postgres.
func (s *GraphDBStorage) Query(ctx context.Context, req query.Request) (*common.GraphResult, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	if req.Cypher != "" {
		return nil, query.ErrUnsupported
	}
	tracer := query.TracerFrom(ctx)
	gb := common.NewGraphBuilder()

	articles, err := s.queryArticles(ctx, searchArticlesSQL, req.Text, req.Limit)
	if err != nil {
		return nil, common.NewPersistenceError("query", err)
	}
	articleIDs := make([]string, 0, len(articles))
	for _, a := range articles {
		articleIDs = append(articleIDs, a.ID)
		gb.AddNode(store.ArticleNode(a))
	}

	entityKeys, err := s.collectEntities(ctx, gb, searchEntitiesSQL, req.Text, req.Limit)
	if err != nil {
		return nil, common.NewPersistenceError("query", err)
	}

	query.RecordMatchedArticleIDs(tracer, articleIDs...)
	query.RecordMatchedEntityKeys(tracer, entityKeys...)

	if err := s.addMentions(ctx, gb, articleIDs, req.Limit); err != nil {
		return nil, common.NewPersistenceError("query", err)
	}
	if len(entityKeys) > 0 {
		rows, err := s.conn.Query(ctx, entityArticlesSQL, entityKeys, req.Limit)
		if err != nil {
			return nil, common.NewPersistenceError("query", err)
		}
		err = scanEach(rows, func(rows pgxv5.Rows) error {
			var key string
			var count int32
			var a common.Article
			if err := rows.Scan(append([]any{&key, &count}, articleDest(&a)...)...); err != nil {
				return err
			}
			gb.AddNode(store.ArticleNode(a))
			gb.AddEdge(store.MentionEdge(a.ID, key, int(count)))
			return nil
		})
		if err != nil {
			return nil, common.NewPersistenceError("query", err)
		}
	}
	return gb.Result(), nil
}

func (s *GraphDBStorage) Neighbourhood(ctx context.Context, articleID string, limit int) (*common.GraphResult, error) {
	if limit <= 0 {
		limit = query.DefaultLimit
	}
	var a common.Article
	err := s.conn.QueryRow(ctx, getArticleSQL, articleID).Scan(articleDest(&a)...)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, &common.NotFoundError{ID: articleID}
	}
	if err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}

	gb := common.NewGraphBuilder()
	gb.AddNode(store.ArticleNode(a))
	if err := s.addMentions(ctx, gb, []string{articleID}, limit); err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}

	rows, err := s.conn.Query(ctx, articleRelationsSQL, articleID, limit)
	if err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}
	err = scanEach(rows, func(rows pgxv5.Rows) error {
		var r store.RelationEdge
		if err := rows.Scan(&r.Key, &r.ArticleID, &r.Type, &r.Source, &r.Target, &r.Score); err != nil {
			return err
		}
		if gb.HasNode(store.EntityNodeID(r.Source)) && gb.HasNode(store.EntityNodeID(r.Target)) {
			gb.AddEdge(store.RelationGraphEdge(r))
		}
		return nil
	})
	if err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}

	rows, err = s.conn.Query(ctx, articleAuthorsSQL, articleID)
	if err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}
	err = scanEach(rows, func(rows pgxv5.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		gb.AddNode(store.AuthorNode(name))
		gb.AddEdge(store.AuthoredEdge(name, articleID))
		return nil
	})
	if err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}

	rows, err = s.conn.Query(ctx, similarArticlesSQL, articleID, limit)
	if err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}
	err = scanEach(rows, func(rows pgxv5.Rows) error {
		var e common.SimilarityEdge
		var other common.Article
		if err := rows.Scan(append([]any{&e.A, &e.B, &e.Score}, articleDest(&other)...)...); err != nil {
			return err
		}
		gb.AddNode(store.ArticleNode(other))
		gb.AddEdge(store.SimilarityGraphEdge(e))
		return nil
	})
	if err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}
	return gb.Result(), nil
}

func (s *GraphDBStorage) queryArticles(ctx context.Context, sql string, args ...any) ([]common.Article, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var out []common.Article
	err = scanEach(rows, func(rows pgxv5.Rows) error {
		var a common.Article
		if err := rows.Scan(articleDest(&a)...); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (s *GraphDBStorage) collectEntities(ctx context.Context, gb *common.GraphBuilder, sql string, args ...any) ([]string, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = scanEach(rows, func(rows pgxv5.Rows) error {
		var e common.Entity
		if err := rows.Scan(&e.Key, &e.Type, &e.Name, &e.Identifier); err != nil {
			return err
		}
		keys = append(keys, e.Key)
		gb.AddNode(store.EntityGraphNode(e))
		return nil
	})
	return keys, err
}

func (s *GraphDBStorage) addMentions(ctx context.Context, gb *common.GraphBuilder, articleIDs []string, limit int) error {
	if len(articleIDs) == 0 {
		return nil
	}
	rows, err := s.conn.Query(ctx, articleMentionsSQL, articleIDs, limit*len(articleIDs))
	if err != nil {
		return err
	}
	return scanEach(rows, func(rows pgxv5.Rows) error {
		var articleID string
		var count int32
		var e common.Entity
		if err := rows.Scan(&articleID, &count, &e.Key, &e.Type, &e.Name, &e.Identifier); err != nil {
			return err
		}
		gb.AddNode(store.EntityGraphNode(e))
		gb.AddEdge(store.MentionEdge(articleID, e.Key, int(count)))
		return nil
	})
}

func articleDest(a *common.Article) []any {
	return []any{&a.ID, &a.Title, &a.Abstract, &a.Journal, &a.Year, &a.PMCID, &a.Authors}
}

func scanEach(rows pgxv5.Rows, fn func(rows pgxv5.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
