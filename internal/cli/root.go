package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pubgraph/backend/internal/app"
	"github.com/pubgraph/backend/internal/config"
	"github.com/pubgraph/backend/pkg/telemetry"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config

	flushLogs       func()
	shutdownTracing telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "pubgraph",
	Short: "Build a knowledge graph from PubTator annotated articles",
	Long: `pubgraph fetches PubTator BioC XML documents, embeds title and abstract,
links similar articles and stores articles, entities, relations and authors
in a graph database.

Example usage:
  pubgraph ingest 34567890 34567891     # Ingest two articles
  pubgraph ingest -q "TP53 apoptosis"   # Ingest the results of a search
  pubgraph query -t BRCA1               # Show matching nodes as JSON
  pubgraph similarity rebuild           # Recompute all SIMILAR_TO edges`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = app.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		flushLogs = app.InitLogger(cfg.Logging)
		shutdownTracing = app.InitTelemetry(cmd.Context(), cfg.Telemetry, "cli")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTracing != nil {
			_ = shutdownTracing(context.Background())
		}
		if flushLogs != nil {
			flushLogs()
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $PUBGRAPH_CONFIG)")
}

func GetConfig() *config.Config {
	return cfg
}
