package cli

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pubgraph/backend/internal/config"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"ingest", "search", "similarity", "query", "migrate", "stats"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected command %s, got %v (%v)", name, cmd, err)
		}
	}
	cmd, _, err := rootCmd.Find([]string{"similarity", "rebuild"})
	if err != nil || cmd.Name() != "rebuild" {
		t.Fatalf("expected similarity rebuild, got %v (%v)", cmd, err)
	}
}

func TestMigrateNeedsPgx(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Graph.Backend = "bolt"
	defer func() { cfg = nil }()

	err := migrateCmd.RunE(migrateCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "pgx") {
		t.Fatalf("expected pgx error, got %v", err)
	}
}

func TestStatsOnEmptyBolt(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Graph.Backend = "bolt"
	cfg.Graph.BoltPath = filepath.Join(t.TempDir(), "graph.db")
	defer func() { cfg = nil }()

	statsCmd.SetContext(context.Background())
	if err := statsCmd.RunE(statsCmd, nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestQueryRejectsEmptyRequest(t *testing.T) {
	cfg = config.DefaultConfig()
	defer func() { cfg = nil }()

	queryText, queryCypher = "", ""
	if err := queryCmd.RunE(queryCmd, nil); err == nil {
		t.Fatal("expected error for empty query")
	}
}
