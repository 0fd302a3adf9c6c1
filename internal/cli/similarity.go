package cli

import (
	"fmt"
	"time"

	"github.com/pubgraph/backend/pkg/pipeline"

	"github.com/spf13/cobra"
)

var similarityCmd = &cobra.Command{
	Use:   "similarity",
	Short: "Manage SIMILAR_TO edges",
}

var similarityRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Compare every stored article with every other one",
	Long: `Rebuild pages through all stored embeddings and writes a SIMILAR_TO edge
for every pair above the configured threshold. Existing edges are updated in
place.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), pipeline.Hooks{})
		if err != nil {
			return err
		}
		defer s.close()

		start := time.Now()
		n, err := s.runner.RebuildSimilarities(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d similarity edges written in %s\n", n, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	similarityCmd.AddCommand(similarityRebuildCmd)
	rootCmd.AddCommand(similarityCmd)
}
