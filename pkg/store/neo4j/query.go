package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/query"
	"github.com/pubgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const searchArticlesQuery = `
MATCH (a:Article)
WHERE toLower(a.title) CONTAINS $q OR toLower(a.abstract) CONTAINS $q
WITH a ORDER BY a.id LIMIT $limit
OPTIONAL MATCH (a)-[m:MENTIONS]->(e:Entity)
RETURN a, m, e
`

const searchEntitiesQuery = `
MATCH (e:Entity)
WHERE toLower(e.name) CONTAINS $q OR toLower(e.normalizedId) = $q
WITH e ORDER BY e.normalizedId LIMIT $limit
OPTIONAL MATCH (a:Article)-[m:MENTIONS]->(e)
RETURN e, m, a
`

var neighbourhoodQueries = []string{
	`MATCH (a:Article {id: $id})-[m:MENTIONS]->(e:Entity) RETURN a, m, e LIMIT $limit`,
	`MATCH (s:Entity)-[r:RELATION {article: $id}]->(t:Entity) RETURN s, r, t LIMIT $limit`,
	`MATCH (p:Author)-[w:AUTHORED]->(a:Article {id: $id}) RETURN p, w, a`,
	`MATCH (a:Article {id: $id})-[s:SIMILAR_TO]-(b:Article) RETURN a, s, b ORDER BY s.score DESC LIMIT $limit`,
}

const articleQuery = `MATCH (a:Article {id: $id}) RETURN a`

// Query runs a text search, or a read-only Cypher query in a read session.
func (s *Neo4jStore) Query(ctx context.Context, req query.Request) (*common.GraphResult, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	tracer := query.TracerFrom(ctx)

	if req.Cypher != "" {
		start := time.Now()
		conv := newResultConverter()
		err := s.read(ctx, func(tx neo4jv5.ManagedTransaction) error {
			return runInto(ctx, tx, conv, req.Cypher, nil, req.Limit)
		})
		query.RecordCypher(tracer, req.Cypher, time.Since(start).Milliseconds(), err)
		if err != nil {
			return nil, mapQueryError(err)
		}
		return conv.Result(), nil
	}

	params := map[string]any{"q": strings.ToLower(req.Text), "limit": int64(req.Limit)}
	conv := newResultConverter()
	err = s.read(ctx, func(tx neo4jv5.ManagedTransaction) error {
		for _, stmt := range []string{searchArticlesQuery, searchEntitiesQuery} {
			start := time.Now()
			err := runInto(ctx, tx, conv, stmt, params, 0)
			query.RecordCypher(tracer, stmt, time.Since(start).Milliseconds(), err)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapQueryError(err)
	}
	query.RecordMatchedArticleIDs(tracer, conv.matched[store.LabelArticle]...)
	query.RecordMatchedEntityKeys(tracer, conv.matched[store.LabelEntity]...)
	return conv.Result(), nil
}

func (s *Neo4jStore) Neighbourhood(ctx context.Context, articleID string, limit int) (*common.GraphResult, error) {
	if limit <= 0 {
		limit = query.DefaultLimit
	}
	params := map[string]any{"id": articleID, "limit": int64(limit)}
	conv := newResultConverter()
	found := false
	err := s.read(ctx, func(tx neo4jv5.ManagedTransaction) error {
		if err := runInto(ctx, tx, conv, articleQuery, params, 1); err != nil {
			return err
		}
		if conv.gb.Len() == 0 {
			return nil
		}
		found = true
		for _, stmt := range neighbourhoodQueries {
			if err := runInto(ctx, tx, conv, stmt, params, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapQueryError(err)
	}
	if !found {
		return nil, &common.NotFoundError{ID: articleID}
	}
	return conv.Result(), nil
}

func (s *Neo4jStore) read(ctx context.Context, fn func(tx neo4jv5.ManagedTransaction) error) error {
	session := s.session(ctx, neo4jv5.AccessModeRead)
	defer session.Close(ctx)
	_, err := session.ExecuteRead(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}

// runInto feeds every value of up to maxRecords records into conv. Zero means
// no cap.
func runInto(ctx context.Context, tx neo4jv5.ManagedTransaction, conv *resultConverter, stmt string, params map[string]any, maxRecords int) error {
	res, err := tx.Run(ctx, stmt, params)
	if err != nil {
		return err
	}
	n := 0
	for res.Next(ctx) {
		for _, v := range res.Record().Values {
			conv.Add(v)
		}
		n++
		if maxRecords > 0 && n >= maxRecords {
			_, err := res.Consume(ctx)
			return err
		}
	}
	return res.Err()
}

// mapQueryError turns driver errors into the errors the web layer maps to
// status codes.
func mapQueryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if neo4jv5.IsConnectivityError(err) {
		logger.Error("[Neo4j] Database unavailable", "err", err)
		return fmt.Errorf("%w: %v", query.ErrUnavailable, err)
	}
	var nerr *neo4jv5.Neo4jError
	if errors.As(err, &nerr) && strings.Contains(nerr.Code, "SyntaxError") {
		return &query.SyntaxError{Message: nerr.Msg}
	}
	return common.NewPersistenceError("query", err)
}
