package cli

import (
	"encoding/json"
	"os"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/query"

	"github.com/spf13/cobra"
)

var (
	queryText   string
	queryCypher string
	queryLimit  int
	queryTrace  bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the graph and print the result as JSON",
	Long: `Query runs a free text search over article titles, abstracts and entity
names, or a read-only Cypher query on Neo4j, and prints {nodes, edges}.

Examples:
  pubgraph query -t "TP53"
  pubgraph query -c "MATCH (a:Article)-[s:SIMILAR_TO]->(b) RETURN a, s, b" -n 20`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryText, "text", "t", "", "free text query")
	queryCmd.Flags().StringVarP(&queryCypher, "cypher", "c", "", "read-only cypher query")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", query.DefaultLimit, "maximum number of matches")
	queryCmd.Flags().BoolVar(&queryTrace, "trace", false, "include what the query matched")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	req, err := query.Request{Text: queryText, Cypher: queryCypher, Limit: queryLimit}.Normalize()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	graph, _, err := openGraph(ctx)
	if err != nil {
		return err
	}
	defer graph.Close(ctx)

	var trace *query.QueryTrace
	if queryTrace {
		trace = query.NewQueryTrace()
		ctx = query.WithTracer(ctx, trace)
	}

	res, err := graph.Query(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if trace == nil {
		return enc.Encode(res)
	}
	return enc.Encode(struct {
		*common.GraphResult
		Trace query.QueryTraceSnapshot `json:"trace"`
	}{res, trace.Snapshot()})
}
