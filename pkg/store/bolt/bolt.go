// Package bolt is an embedded graph store on top of bbolt. It backs local
// runs of the CLI and the pipeline tests; every node and edge kind lives in
// its own bucket under a composite key so merges are plain puts.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/store"

	"go.etcd.io/bbolt"
)

const schemaVersion = 1

var (
	bucketArticles       = []byte("articles")
	bucketEntities       = []byte("entities")
	bucketMentions       = []byte("mentions")        // article|entity -> count
	bucketEntityMentions = []byte("entity_mentions") // entity|article -> count
	bucketRelations      = []byte("relations")       // article|source|target|type -> edge
	bucketSimilarities   = []byte("similarities")    // a|b -> score
	bucketSimilarAdj     = []byte("similar_adj")     // id|other -> score
	bucketAuthors        = []byte("authors")
	bucketAuthored       = []byte("authored")        // author|article
	bucketArticleAuthors = []byte("article_authors") // article|author
	bucketMeta           = []byte("meta")

	keySchemaVersion = []byte("schema_version")

	allBuckets = [][]byte{
		bucketArticles, bucketEntities, bucketMentions, bucketEntityMentions,
		bucketRelations, bucketSimilarities, bucketSimilarAdj, bucketAuthors,
		bucketAuthored, bucketArticleAuthors, bucketMeta,
	}
)

const sep = "\x1f"

func compositeKey(parts ...string) []byte {
	return []byte(strings.Join(parts, sep))
}

func prefixKey(part string) []byte {
	return []byte(part + sep)
}

func splitKey(k []byte) []string {
	return strings.Split(string(k), sep)
}

type articleRecord struct {
	common.Article
	Embedding []float32 `json:"embedding"`
}

// BoltStore implements store.GraphWriter and query.GraphQuerier.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, common.NewPersistenceError("open", fmt.Errorf("failed to open bolt db: %w", err))
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return common.NewPersistenceError("ping", s.db.View(func(tx *bbolt.Tx) error { return nil }))
}

// EnsureSchema creates all buckets and records the schema version.
func (s *BoltStore) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if raw := meta.Get(keySchemaVersion); raw != nil {
			var v int
			if err := json.Unmarshal(raw, &v); err == nil && v > schemaVersion {
				return fmt.Errorf("store schema version %d is newer than supported %d", v, schemaVersion)
			}
		}
		data, err := json.Marshal(schemaVersion)
		if err != nil {
			return err
		}
		return meta.Put(keySchemaVersion, data)
	})
	return common.NewPersistenceError("ensure schema", err)
}

func (s *BoltStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *BoltStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	if err := ctx.Err(); err != nil {
		return st, err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		count := func(name []byte) int64 {
			b := tx.Bucket(name)
			if b == nil {
				return 0
			}
			return int64(b.Stats().KeyN)
		}
		st.Articles = count(bucketArticles)
		st.Entities = count(bucketEntities)
		st.Authors = count(bucketAuthors)
		st.Mentions = count(bucketMentions)
		st.Relations = count(bucketRelations)
		st.Similarities = count(bucketSimilarities)
		return nil
	})
	return st, common.NewPersistenceError("stats", err)
}

// forEachPrefix calls fn for every key of b starting with prefix.
func forEachPrefix(b *bbolt.Bucket, prefix []byte, fn func(k, v []byte) error) error {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func buckets(tx *bbolt.Tx, names ...[]byte) ([]*bbolt.Bucket, error) {
	out := make([]*bbolt.Bucket, len(names))
	for i, n := range names {
		out[i] = tx.Bucket(n)
		if out[i] == nil {
			return nil, fmt.Errorf("bucket %s missing, run EnsureSchema first", n)
		}
	}
	return out, nil
}
