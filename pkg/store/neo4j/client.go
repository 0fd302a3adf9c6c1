// Package neo4j persists the article graph in Neo4j. Every write is an
// UNWIND ... MERGE inside a managed write transaction so reruns converge on
// the same graph.
package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/logger"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type ClientParams struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
}

// Neo4jStore implements store.GraphWriter and query.GraphQuerier.
type Neo4jStore struct {
	driver   neo4jv5.DriverWithContext
	database string
}

// NewNeo4jStore opens a driver and verifies that the server is reachable.
func NewNeo4jStore(ctx context.Context, p ClientParams) (*Neo4jStore, error) {
	uri := strings.TrimSpace(p.URI)
	if uri == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	user := strings.TrimSpace(p.User)
	if user == "" {
		user = "neo4j"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxPool := p.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}

	driver, err := neo4jv5.NewDriverWithContext(uri, neo4jv5.BasicAuth(user, p.Password, ""), func(cfg *neo4jv5.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, common.NewPersistenceError("connect", fmt.Errorf("failed to init neo4j driver: %w", err))
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(vctx)
		return nil, common.NewPersistenceError("connect", fmt.Errorf("failed to verify neo4j connectivity: %w", err))
	}

	logger.Debug("[Neo4j] Connected", "uri", uri, "database", p.Database)
	return &Neo4jStore{driver: driver, database: strings.TrimSpace(p.Database)}, nil
}

func (s *Neo4jStore) Ping(ctx context.Context) error {
	return common.NewPersistenceError("ping", s.driver.VerifyConnectivity(ctx))
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	err := s.driver.Close(ctx)
	s.driver = nil
	return err
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4jv5.AccessMode) neo4jv5.SessionWithContext {
	return s.driver.NewSession(ctx, neo4jv5.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

var schemaStatements = []string{
	`CREATE CONSTRAINT article_id_unique IF NOT EXISTS FOR (a:Article) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT entity_key_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.normalizedId IS UNIQUE`,
	`CREATE CONSTRAINT author_name_unique IF NOT EXISTS FOR (p:Author) REQUIRE p.name IS UNIQUE`,
	`CREATE INDEX entity_name_idx IF NOT EXISTS FOR (e:Entity) ON (e.name)`,
	`CREATE INDEX relation_article_idx IF NOT EXISTS FOR ()-[r:RELATION]-() ON (r.article)`,
}

// EnsureSchema creates uniqueness constraints. Failures are logged and
// ignored since restricted users may not manage schema.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4jv5.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			if neo4jv5.IsConnectivityError(err) {
				return common.NewPersistenceError("ensure schema", err)
			}
			logger.Warn("[Neo4j] Schema init failed (continuing)", "statement", stmt, "err", err)
		}
	}
	return nil
}
