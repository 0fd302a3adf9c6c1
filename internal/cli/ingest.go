package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/pipeline"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	ingestQuery      string
	ingestLimit      int
	ingestFile       string
	ingestNoProgress bool
	ingestSaveReport bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [ids...]",
	Short: "Fetch, embed and store articles",
	Long: `Ingest articles by PubMed id. Ids may be given as arguments, read from a
file or resolved from a search query. Articles that fail are listed at the end
and do not stop the run.

Examples:
  pubgraph ingest 34567890 PMID:34567891
  pubgraph ingest --file ids.txt
  pubgraph ingest --query "BRCA1 breast cancer" --limit 50`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestQuery, "query", "q", "", "search query resolved to article ids")
	ingestCmd.Flags().IntVarP(&ingestLimit, "limit", "n", 100, "maximum number of search results")
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "file with article ids, separated by commas or whitespace")
	ingestCmd.Flags().BoolVar(&ingestNoProgress, "no-progress", false, "disable the progress bar")
	ingestCmd.Flags().BoolVar(&ingestSaveReport, "save-report", false, "upload the run report to the report bucket")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	raw := args
	if ingestFile != "" {
		data, err := os.ReadFile(ingestFile)
		if err != nil {
			return fmt.Errorf("failed to read id file: %w", err)
		}
		raw = append(raw, string(data))
	}
	ids := util.ParseArticleIDs(raw...)

	// The bar is created once the total is known.
	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	hooks := pipeline.Hooks{
		OnArticle: func(id string, state pipeline.State) {
			if state != pipeline.StatePersisted && state != pipeline.StateFailed {
				return
			}
			barMu.Lock()
			defer barMu.Unlock()
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	}

	s, err := openSession(ctx, hooks)
	if err != nil {
		return err
	}
	defer s.close()

	if ingestQuery != "" {
		search, err := searcher(s.source)
		if err != nil {
			return err
		}
		found, err := search.Search(ctx, ingestQuery, ingestLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		fmt.Printf("Query %q matched %d articles\n", ingestQuery, len(found))
		ids = util.ParseArticleIDs(append(ids, found...)...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no article ids given")
	}

	if !ingestNoProgress {
		barMu.Lock()
		bar = newProgressBar(len(ids), "[cyan]Ingesting[reset]")
		barMu.Unlock()
	}

	report, err := s.runner.Run(ctx, ids)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	fmt.Println(report.Summary())

	if ingestSaveReport {
		if s.reports == nil {
			return fmt.Errorf("no report bucket configured, set AWS_REPORT_BUCKET")
		}
		key, err := s.reports.PutReport(ctx, report)
		if err != nil {
			return err
		}
		fmt.Printf("Report stored at %s\n", key)
	}

	if len(report.Succeeded) == 0 && len(report.Failed) > 0 {
		return fmt.Errorf("no article was ingested")
	}
	return nil
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}
