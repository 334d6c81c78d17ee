package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/engine"
	"github.com/searchlens/searchlens/internal/output"
)

var probeCmd = &cobra.Command{
	Use:   "probe <index>",
	Short: "Load an index concurrently and report backpressure",
	Long: `Issue the same query many times with bounded concurrency and report
latency percentiles alongside the backpressure the cluster applied.

Use it to find the concurrency at which a cluster starts rejecting work.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run queries from an NDJSON file",
	Long: `Run every query in an NDJSON file ('-' for stdin). Each line is an object
with an optional "index", a "query" and an optional "size":

  {"index": "logs", "query": {"match": {"level": "error"}}, "size": 5}`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(batchCmd)

	probeCmd.Flags().String("query", "", "Query DSL JSON (default match_all)")
	probeCmd.Flags().String("query-file", "", "Read the query DSL from a file ('-' for stdin)")
	probeCmd.Flags().Int("requests", 100, "Number of queries to issue")
	probeCmd.Flags().Int("size", 0, "Hits requested per query")

	batchCmd.Flags().String("index", "", "Index for lines that do not name one")
	batchCmd.Flags().Int("size", 10, "Hits requested for lines that do not set size")

	for _, c := range []*cobra.Command{probeCmd, batchCmd} {
		c.Flags().Int("concurrency", 0, "Concurrent queries (default: workers from config)")
		c.Flags().Bool("results", false, "Include per-query results in the report")
		addOutputFlags(c)
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	query, err := queryFromFlags(cmd)
	if err != nil {
		return err
	}
	requests, err := cmd.Flags().GetInt("requests")
	if err != nil {
		return err
	}
	if requests <= 0 {
		return fmt.Errorf("--requests must be positive")
	}
	size, err := cmd.Flags().GetInt("size")
	if err != nil {
		return err
	}

	queries := make([]engine.Query, requests)
	for i := range queries {
		queries[i] = engine.Query{Index: args[0], Body: query, Size: size}
	}
	return runQueries(cmd, "probe."+args[0], queries)
}

func runBatch(cmd *cobra.Command, args []string) error {
	index, err := cmd.Flags().GetString("index")
	if err != nil {
		return err
	}
	size, err := cmd.Flags().GetInt("size")
	if err != nil {
		return err
	}
	queries, err := readQueryFile(args[0], index, size)
	if err != nil {
		return err
	}
	return runQueries(cmd, "batch", queries)
}

func runQueries(cmd *cobra.Command, base string, queries []engine.Query) error {
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	keep, err := cmd.Flags().GetBool("results")
	if err != nil {
		return err
	}

	return clusterCommand(cmd, func(ctx context.Context, sess *session) error {
		if concurrency <= 0 {
			concurrency = sess.Config.Workers
		}
		runner := &engine.Runner{
			Searcher:    sess.Search,
			Stats:       sess.Client,
			Concurrency: concurrency,
			KeepResults: keep,
		}
		report, err := runner.Run(ctx, queries)
		if err != nil {
			return err
		}
		if err := emit(cmd, base, func(format output.Format) (string, error) {
			return output.FormatReport(format, report)
		}); err != nil {
			return err
		}
		return reportFailure(report)
	})
}

// reportFailure turns a run where every query failed into a command error so
// the exit code reflects it.
func reportFailure(report *core.RunReport) error {
	if report == nil || report.Queries == 0 || report.Succeeded > 0 {
		return nil
	}
	return fmt.Errorf("all %d queries failed (%s)", report.Queries, summarizeKinds(report.FailureKinds))
}

func summarizeKinds(kinds map[string]int) string {
	best, bestCount := "error", 0
	for kind, n := range kinds {
		if n > bestCount || (n == bestCount && kind < best) {
			best, bestCount = kind, n
		}
	}
	return best
}
