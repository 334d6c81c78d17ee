package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/core/search"
	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/output"
)

var searchCmd = &cobra.Command{
	Use:   "search <index>",
	Short: "Run a search against an index",
	Long: `Run a query DSL search against an index and print the hits.

Throttled attempts are retried with jittered exponential backoff; the
backpressure the cluster applied is logged when the call completes.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var countCmd = &cobra.Command{
	Use:   "count <index>",
	Short: "Count documents matching a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runCount,
}

var scanCmd = &cobra.Command{
	Use:   "scan <index>",
	Short: "Stream every matching document as NDJSON",
	Long: `Drain a scroll cursor over every document matching the query and write
one JSON hit per line. The cursor is cleared when the scan ends or fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(scanCmd)

	for _, c := range []*cobra.Command{searchCmd, countCmd, scanCmd} {
		c.Flags().String("query", "", "Query DSL JSON (default match_all)")
		c.Flags().String("query-file", "", "Read the query DSL from a file ('-' for stdin)")
	}
	searchCmd.Flags().Int("size", 10, "Maximum hits to return")
	addOutputFlags(searchCmd)
	addOutputFlags(countCmd)

	scanCmd.Flags().Int("page-size", 1000, "Hits fetched per scroll page")
	scanCmd.Flags().String("out", "", "Write NDJSON to a file (default stdout)")
}

// clusterCommand loads config, opens a session and runs fn with it. The
// session's backpressure is reported and persisted afterwards.
func clusterCommand(cmd *cobra.Command, fn func(ctx context.Context, sess *session) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	sess, err := newSession(ctx, cfg, sessionOptions{
		persist: cfg.Stats.Persist,
		logger:  observability.CLILogger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	runErr := fn(ctx, sess)
	reportBackpressure(sess)
	sess.recordSnapshot(context.WithoutCancel(ctx))
	return runErr
}

func reportBackpressure(sess *session) {
	snap := sess.Stats.Snapshot()
	if snap.AllTime.Count == 0 || observability.CLILogger == nil {
		return
	}
	observability.CLILogger.Info("Cluster applied backpressure",
		zap.Int64("events", snap.AllTime.Count),
		zap.Duration("max_wait", snap.AllTime.Max),
		zap.Duration("total_wait", snap.AllTime.Total))
}

func queryFromFlags(cmd *cobra.Command) (json.RawMessage, error) {
	inline, err := cmd.Flags().GetString("query")
	if err != nil {
		return nil, err
	}
	file, err := cmd.Flags().GetString("query-file")
	if err != nil {
		return nil, err
	}
	return resolveQuery(inline, file)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query, err := queryFromFlags(cmd)
	if err != nil {
		return err
	}
	size, err := cmd.Flags().GetInt("size")
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("--size must not be negative")
	}

	return clusterCommand(cmd, func(ctx context.Context, sess *session) error {
		result, err := sess.Search.Search(ctx, args[0], query, size, 0)
		if err != nil {
			return err
		}
		return emit(cmd, "search."+args[0], func(format output.Format) (string, error) {
			return output.FormatSearch(format, result)
		})
	})
}

func runCount(cmd *cobra.Command, args []string) error {
	query, err := queryFromFlags(cmd)
	if err != nil {
		return err
	}

	return clusterCommand(cmd, func(ctx context.Context, sess *session) error {
		count, err := sess.Search.Count(ctx, args[0], query)
		if err != nil {
			return err
		}
		return emit(cmd, "count."+args[0], func(format output.Format) (string, error) {
			return output.FormatCount(format, output.CountResult{Index: args[0], Count: count})
		})
	})
}

func runScan(cmd *cobra.Command, args []string) error {
	query, err := queryFromFlags(cmd)
	if err != nil {
		return err
	}
	pageSize, err := cmd.Flags().GetInt("page-size")
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	return clusterCommand(cmd, func(ctx context.Context, sess *session) error {
		start := time.Now()
		enc := json.NewEncoder(sink.writer)
		delivered, err := sess.Search.ScanAll(ctx, args[0], query, pageSize, func(hit search.Hit) error {
			return enc.Encode(hit)
		})
		observability.CLILogger.Info("Scan finished",
			zap.String("index", args[0]),
			zap.Int64("documents", delivered),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("out", sink.path))
		return err
	})
}
