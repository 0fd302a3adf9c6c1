// Package pgx persists the article graph in PostgreSQL with pgvector. Nodes
// and edges are plain tables; every write is an INSERT ... ON CONFLICT over
// unnested column arrays.
package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/leaselock"
	"github.com/pubgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphWriter and query.GraphQuerier on top
// of PostgreSQL.
type GraphDBStorage struct {
	conn pgxIConn
	pool *pgxpool.Pool
}

// NewGraphDBStorage connects a pool with the pgvector types registered on
// every connection.
func NewGraphDBStorage(ctx context.Context, url string) (*GraphDBStorage, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, common.NewPersistenceError("connect", err)
	}
	return &GraphDBStorage{conn: pool, pool: pool}, nil
}

// NewGraphDBStorageWithConnection wraps an existing connection or
// transaction. The caller keeps ownership of conn.
func NewGraphDBStorageWithConnection(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

func (s *GraphDBStorage) Pool() *pgxpool.Pool {
	return s.pool
}

// Locker returns a cross-process article lock backed by the article_locks
// table. It needs a pool.
func (s *GraphDBStorage) Locker() (store.Locker, error) {
	if s.pool == nil {
		return nil, errors.New("locker requires a connection pool")
	}
	return leaselock.New(s.pool, leaselock.DefaultOptions()), nil
}

func (s *GraphDBStorage) Ping(ctx context.Context) error {
	var one int
	return common.NewPersistenceError("ping", s.conn.QueryRow(ctx, "SELECT 1").Scan(&one))
}

// EnsureSchema checks that migrations were applied. Run Migrate to create the
// tables.
func (s *GraphDBStorage) EnsureSchema(ctx context.Context) error {
	var exists bool
	err := s.conn.QueryRow(ctx, `SELECT to_regclass('public.articles') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return common.NewPersistenceError("ensure schema", err)
	}
	if !exists {
		return common.NewPersistenceError("ensure schema", errors.New("table articles missing, run migrations first"))
	}
	return nil
}

func (s *GraphDBStorage) Close(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *GraphDBStorage) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.conn.QueryRow(ctx, statsSQL).Scan(
		&st.Articles, &st.Entities, &st.Authors, &st.Mentions, &st.Relations, &st.Similarities,
	)
	return st, common.NewPersistenceError("stats", err)
}

const statsSQL = `
SELECT
    (SELECT count(*) FROM articles),
    (SELECT count(*) FROM entities),
    (SELECT count(*) FROM authors),
    (SELECT count(*) FROM mentions),
    (SELECT count(*) FROM relations),
    (SELECT count(*) FROM similarities)
`
