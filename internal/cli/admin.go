package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pubgraph/backend/pkg/store/pgx"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if !strings.EqualFold(cfg.Graph.Backend, "pgx") {
			return fmt.Errorf("migrations only apply to the pgx backend, GRAPH_BACKEND is %q", cfg.Graph.Backend)
		}
		if err := pgx.Migrate(cfg.Graph.DatabaseURL); err != nil {
			return err
		}
		fmt.Println("Database schema is up to date")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print node and edge counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		graph, _, err := openGraph(ctx)
		if err != nil {
			return err
		}
		defer graph.Close(ctx)

		stats, err := graph.Stats(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statsCmd)
}
