package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/core/store"
	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show persisted backpressure statistics",
	Long: `Show the backpressure snapshots recorded by the server's snapshotter and
by commands run with stats.persist enabled, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}
		latest, err := cmd.Flags().GetBool("latest")
		if err != nil {
			return err
		}
		if latest {
			limit = 1
		}

		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		snaps, err := db.ListSnapshots(ctx, limit)
		if err != nil {
			return err
		}

		if latest {
			if len(snaps) == 0 {
				return fmt.Errorf("no snapshots recorded")
			}
			return emit(cmd, "stats.latest", func(format output.Format) (string, error) {
				return output.FormatStats(format, snaps[0])
			})
		}
		return emit(cmd, "stats.history", func(format output.Format) (string, error) {
			return output.FormatSnapshots(format, snaps)
		})
	},
}

var statsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, err := cmd.Flags().GetDuration("older-than")
		if err != nil {
			return err
		}
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}

		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		cutoff := time.Now().UTC().Add(-olderThan)
		deleted, err := db.PruneSnapshots(ctx, cutoff)
		if err != nil {
			return err
		}
		observability.CLILogger.Info(fmt.Sprintf("Pruned %d snapshot(s)", deleted),
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.AddCommand(statsPruneCmd)

	statsCmd.Flags().Int("limit", store.DefaultSnapshotLimit, "Maximum snapshots to show")
	statsCmd.Flags().Bool("latest", false, "Show only the most recent snapshot in detail")
	addOutputFlags(statsCmd)

	statsPruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "Retention window")
}
