package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/similarity"
	"github.com/pubgraph/backend/pkg/store"

	"go.etcd.io/bbolt"
)

func (s *BoltStore) UpsertArticle(ctx context.Context, g store.ArticleGraph) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := g.Article.ID
	if id == "" {
		return fmt.Errorf("article without id")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bs, err := buckets(tx, bucketArticles, bucketEntities, bucketMentions, bucketEntityMentions,
			bucketRelations, bucketAuthors, bucketAuthored, bucketArticleAuthors)
		if err != nil {
			return err
		}
		articles, entities, mentions, entityMentions := bs[0], bs[1], bs[2], bs[3]
		relations, authors, authored, articleAuthors := bs[4], bs[5], bs[6], bs[7]

		rec, err := json.Marshal(articleRecord{Article: g.Article, Embedding: g.Embedding})
		if err != nil {
			return err
		}
		if err := articles.Put([]byte(id), rec); err != nil {
			return err
		}

		keepMentions := make(map[string]struct{}, len(g.Entities))
		for _, e := range g.Entities {
			if err := mergeEntity(entities, e); err != nil {
				return err
			}
			if e.Mentions == 0 {
				continue
			}
			keepMentions[e.Key] = struct{}{}
			count, err := json.Marshal(e.Mentions)
			if err != nil {
				return err
			}
			if err := mentions.Put(compositeKey(id, e.Key), count); err != nil {
				return err
			}
			if err := entityMentions.Put(compositeKey(e.Key, id), count); err != nil {
				return err
			}
		}

		var staleMentions []string
		err = forEachPrefix(mentions, prefixKey(id), func(k, _ []byte) error {
			if key := splitKey(k)[1]; !contains(keepMentions, key) {
				staleMentions = append(staleMentions, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range staleMentions {
			if err := mentions.Delete(compositeKey(id, key)); err != nil {
				return err
			}
			if err := entityMentions.Delete(compositeKey(key, id)); err != nil {
				return err
			}
		}

		keepRelations := make(map[string]struct{}, len(g.Relations))
		for _, r := range g.Relations {
			keepRelations[r.Key] = struct{}{}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := relations.Put([]byte(r.Key), data); err != nil {
				return err
			}
		}
		var staleRelations [][]byte
		err = forEachPrefix(relations, prefixKey(id), func(k, _ []byte) error {
			if !contains(keepRelations, string(k)) {
				staleRelations = append(staleRelations, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range staleRelations {
			if err := relations.Delete(k); err != nil {
				return err
			}
		}

		keepAuthors := make(map[string]struct{})
		for _, name := range g.Authors() {
			keepAuthors[name] = struct{}{}
			if err := authors.Put([]byte(name), []byte("{}")); err != nil {
				return err
			}
			if err := authored.Put(compositeKey(name, id), nil); err != nil {
				return err
			}
			if err := articleAuthors.Put(compositeKey(id, name), nil); err != nil {
				return err
			}
		}
		var staleAuthors []string
		err = forEachPrefix(articleAuthors, prefixKey(id), func(k, _ []byte) error {
			if name := splitKey(k)[1]; !contains(keepAuthors, name) {
				staleAuthors = append(staleAuthors, name)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range staleAuthors {
			if err := articleAuthors.Delete(compositeKey(id, name)); err != nil {
				return err
			}
			if err := authored.Delete(compositeKey(name, id)); err != nil {
				return err
			}
		}
		return nil
	})
	return common.NewPersistenceError("upsert article", err)
}

// mergeEntity creates the entity or fills in a better name. A name equal to
// the identifier is a placeholder written for relation-only entities.
func mergeEntity(b *bbolt.Bucket, e store.EntityNode) error {
	next := e.Entity
	if raw := b.Get([]byte(e.Key)); raw != nil {
		var cur common.Entity
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		next = cur
		if e.Mentions > 0 && (cur.Name == "" || cur.Name == cur.Identifier) {
			next.Name = e.Name
		}
		if next.Type == "" {
			next.Type = e.Type
		}
		if next == cur {
			return nil
		}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return b.Put([]byte(e.Key), data)
}

func (s *BoltStore) UpsertSimilarities(ctx context.Context, edges []common.SimilarityEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putSimilarities(tx, edges)
	})
	return common.NewPersistenceError("upsert similarities", err)
}

// ReplaceSimilarities drops every SIMILAR_TO edge touching ids and writes
// edges in the same transaction.
func (s *BoltStore) ReplaceSimilarities(ctx context.Context, ids []string, edges []common.SimilarityEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 && len(edges) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bs, err := buckets(tx, bucketSimilarities, bucketSimilarAdj)
		if err != nil {
			return err
		}
		sims, adj := bs[0], bs[1]
		for _, id := range ids {
			var others []string
			err := forEachPrefix(adj, prefixKey(id), func(k, _ []byte) error {
				others = append(others, splitKey(k)[1])
				return nil
			})
			if err != nil {
				return err
			}
			for _, other := range others {
				a, b := id, other
				if b < a {
					a, b = b, a
				}
				if err := sims.Delete(compositeKey(a, b)); err != nil {
					return err
				}
				if err := adj.Delete(compositeKey(id, other)); err != nil {
					return err
				}
				if err := adj.Delete(compositeKey(other, id)); err != nil {
					return err
				}
			}
		}
		return putSimilarities(tx, edges)
	})
	return common.NewPersistenceError("replace similarities", err)
}

func putSimilarities(tx *bbolt.Tx, edges []common.SimilarityEdge) error {
	bs, err := buckets(tx, bucketSimilarities, bucketSimilarAdj)
	if err != nil {
		return err
	}
	sims, adj := bs[0], bs[1]
	for _, e := range edges {
		edge, err := common.NewSimilarityEdge(e.A, e.B, e.Score)
		if err != nil {
			return err
		}
		score, err := json.Marshal(edge.Score)
		if err != nil {
			return err
		}
		if err := sims.Put(compositeKey(edge.A, edge.B), score); err != nil {
			return err
		}
		if err := adj.Put(compositeKey(edge.A, edge.B), score); err != nil {
			return err
		}
		if err := adj.Put(compositeKey(edge.B, edge.A), score); err != nil {
			return err
		}
	}
	return nil
}

// ScanEmbeddings reads one page per read transaction so fn may write to the
// store.
func (s *BoltStore) ScanEmbeddings(ctx context.Context, pageSize int, exclude []string, fn func([]similarity.Vector) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := make([]similarity.Vector, 0, pageSize)
		var last []byte
		exhausted := false
		err := s.db.View(func(tx *bbolt.Tx) error {
			bs, err := buckets(tx, bucketArticles)
			if err != nil {
				return err
			}
			c := bs[0].Cursor()
			k, v := c.First()
			if after != nil {
				k, v = c.Seek(after)
				if k != nil && string(k) == string(after) {
					k, v = c.Next()
				}
			}
			for ; len(page) < pageSize; k, v = c.Next() {
				if k == nil {
					exhausted = true
					break
				}
				last = append(last[:0], k...)
				if _, ok := skip[string(k)]; ok {
					continue
				}
				var rec articleRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("decode article %s: %w", k, err)
				}
				if len(rec.Embedding) == 0 {
					continue
				}
				page = append(page, similarity.Vector{ID: string(k), Values: rec.Embedding})
			}
			return nil
		})
		if err != nil {
			return common.NewPersistenceError("scan embeddings", err)
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if exhausted || last == nil {
			return nil
		}
		after = append([]byte(nil), last...)
	}
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
