package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
)

var (
	searchLimit  int
	searchFields []string
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long: `Runs a query against the last committed snapshot. Bare terms search the
server's default fields unless --fields names others. Results are ranked by
BM25.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().StringSliceVar(&searchFields, "fields", nil, "fields searched by bare terms")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	c := newClient(endpoint, requestTimeout, 1)
	result, err := c.search(ctx, args[0], searchLimit, searchFields)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if searchJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printResults(cmd, result)
	return nil
}

func printResults(cmd *cobra.Command, result *executor.Result) {
	if len(result.Hits) == 0 {
		cmd.Println("No results found.")
		return
	}
	cmd.Printf("%d hits (generation %d, %dms)\n\n", result.TotalHits, result.Generation, result.TookMs)
	for i, hit := range result.Hits {
		title := hit.ID
		if v, ok := hit.Fields["title"]; ok && v.Str != "" {
			title = v.Str
		}
		cmd.Printf("  [%d] %s (%.4f)\n", i+1, title, hit.Score)
		cmd.Printf("      id: %s\n", hit.ID)
	}
}
