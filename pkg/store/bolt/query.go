package bolt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/query"
	"github.com/pubgraph/backend/pkg/store"

	"go.etcd.io/bbolt"
)

// Query runs a case-insensitive substring search. Raw Cypher is not
// supported by the embedded store.
func (s *BoltStore) Query(ctx context.Context, req query.Request) (*common.GraphResult, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	if req.Cypher != "" {
		return nil, query.ErrUnsupported
	}
	tracer := query.TracerFrom(ctx)
	start := time.Now()
	needle := strings.ToLower(req.Text)

	gb := common.NewGraphBuilder()
	err = s.db.View(func(tx *bbolt.Tx) error {
		bs, err := buckets(tx, bucketArticles, bucketEntities, bucketEntityMentions)
		if err != nil {
			return err
		}
		articles, entities, entityMentions := bs[0], bs[1], bs[2]

		var articleIDs []string
		c := articles.Cursor()
		for k, v := c.First(); k != nil && len(articleIDs) < req.Limit; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			a, err := decodeArticle(v)
			if err != nil {
				return err
			}
			if strings.Contains(strings.ToLower(a.Title), needle) || strings.Contains(strings.ToLower(a.Abstract), needle) {
				articleIDs = append(articleIDs, a.ID)
				gb.AddNode(store.ArticleNode(a))
			}
		}

		var entityKeys []string
		c = entities.Cursor()
		for k, v := c.First(); k != nil && len(entityKeys) < req.Limit; k, v = c.Next() {
			var e common.Entity
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if strings.Contains(strings.ToLower(e.Name), needle) || strings.EqualFold(e.Identifier, req.Text) {
				entityKeys = append(entityKeys, e.Key)
				gb.AddNode(store.EntityGraphNode(e))
			}
		}

		query.RecordMatchedArticleIDs(tracer, articleIDs...)
		query.RecordMatchedEntityKeys(tracer, entityKeys...)

		for _, id := range articleIDs {
			if err := addArticleMentions(tx, gb, id, req.Limit); err != nil {
				return err
			}
		}
		for _, key := range entityKeys {
			n := 0
			err := forEachPrefix(entityMentions, prefixKey(key), func(k, v []byte) error {
				if n >= req.Limit {
					return nil
				}
				n++
				articleID := splitKey(k)[1]
				raw := articles.Get([]byte(articleID))
				if raw == nil {
					return nil
				}
				a, err := decodeArticle(raw)
				if err != nil {
					return err
				}
				gb.AddNode(store.ArticleNode(a))
				gb.AddEdge(store.MentionEdge(articleID, key, decodeCount(v)))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	query.RecordCypher(tracer, "", time.Since(start).Milliseconds(), err)
	if err != nil {
		return nil, common.NewPersistenceError("query", err)
	}
	return gb.Result(), nil
}

// Neighbourhood returns the article, its entities, relations between them,
// its authors and similar articles.
func (s *BoltStore) Neighbourhood(ctx context.Context, articleID string, limit int) (*common.GraphResult, error) {
	if limit <= 0 {
		limit = query.DefaultLimit
	}
	gb := common.NewGraphBuilder()
	found := true
	err := s.db.View(func(tx *bbolt.Tx) error {
		bs, err := buckets(tx, bucketArticles, bucketRelations, bucketSimilarAdj, bucketArticleAuthors)
		if err != nil {
			return err
		}
		articles, relations, adj, articleAuthors := bs[0], bs[1], bs[2], bs[3]

		raw := articles.Get([]byte(articleID))
		if raw == nil {
			found = false
			return nil
		}
		a, err := decodeArticle(raw)
		if err != nil {
			return err
		}
		gb.AddNode(store.ArticleNode(a))

		if err := addArticleMentions(tx, gb, articleID, limit); err != nil {
			return err
		}

		err = forEachPrefix(relations, prefixKey(articleID), func(_, v []byte) error {
			var r store.RelationEdge
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if gb.HasNode(store.EntityNodeID(r.Source)) && gb.HasNode(store.EntityNodeID(r.Target)) {
				gb.AddEdge(store.RelationGraphEdge(r))
			}
			return nil
		})
		if err != nil {
			return err
		}

		err = forEachPrefix(articleAuthors, prefixKey(articleID), func(k, _ []byte) error {
			name := splitKey(k)[1]
			gb.AddNode(store.AuthorNode(name))
			gb.AddEdge(store.AuthoredEdge(name, articleID))
			return nil
		})
		if err != nil {
			return err
		}

		n := 0
		return forEachPrefix(adj, prefixKey(articleID), func(k, v []byte) error {
			if n >= limit {
				return nil
			}
			other := splitKey(k)[1]
			raw := articles.Get([]byte(other))
			if raw == nil {
				return nil
			}
			b, err := decodeArticle(raw)
			if err != nil {
				return err
			}
			var score float64
			if err := json.Unmarshal(v, &score); err != nil {
				return err
			}
			edge, err := common.NewSimilarityEdge(articleID, other, score)
			if err != nil {
				return err
			}
			n++
			gb.AddNode(store.ArticleNode(b))
			gb.AddEdge(store.SimilarityGraphEdge(edge))
			return nil
		})
	})
	if err != nil {
		return nil, common.NewPersistenceError("neighbourhood", err)
	}
	if !found {
		return nil, &common.NotFoundError{ID: articleID}
	}
	return gb.Result(), nil
}

func addArticleMentions(tx *bbolt.Tx, gb *common.GraphBuilder, articleID string, limit int) error {
	bs, err := buckets(tx, bucketMentions, bucketEntities)
	if err != nil {
		return err
	}
	mentions, entities := bs[0], bs[1]
	n := 0
	return forEachPrefix(mentions, prefixKey(articleID), func(k, v []byte) error {
		if n >= limit {
			return nil
		}
		key := splitKey(k)[1]
		raw := entities.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var e common.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		n++
		gb.AddNode(store.EntityGraphNode(e))
		gb.AddEdge(store.MentionEdge(articleID, key, decodeCount(v)))
		return nil
	})
}

func decodeArticle(raw []byte) (common.Article, error) {
	var rec articleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return common.Article{}, err
	}
	return rec.Article, nil
}

func decodeCount(v []byte) int {
	var n int
	_ = json.Unmarshal(v, &n)
	return n
}
