package cli

import (
	"fmt"

	"github.com/pubgraph/backend/internal/app"

	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Resolve a search query to PubMed ids",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		src, err := app.NewSource(ctx, GetConfig(), nil)
		if err != nil {
			return err
		}
		search, err := searcher(src)
		if err != nil {
			return err
		}
		ids, err := search.Search(ctx, args[0], searchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
