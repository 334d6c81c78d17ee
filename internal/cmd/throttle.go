package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/searchlens/searchlens/internal/core/store"
	"github.com/searchlens/searchlens/internal/output"
)

var throttleCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Inspect and reset persisted per-endpoint throttle state",
	Long: `The throttle gate records request windows and Retry-After backoff per
endpoint address. With a libsql store the state survives restarts and is
shared between processes; these commands inspect and clear it.`,
}

var throttleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored throttle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := throttleQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		if !query.All && query.Endpoint == "" && query.Prefix == "" {
			query.All = true
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

		entries, err := db.ListThrottles(ctx, query)
		if err != nil {
			return err
		}
		return emit(cmd, "throttle.list", func(format output.Format) (string, error) {
			return output.FormatThrottles(format, entries)
		})
	},
}

var throttleResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored throttle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := throttleQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := query.Validate(); err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if query.All && !yes && !dryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
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

		matched, err := db.ListThrottles(ctx, query)
		if err != nil {
			return err
		}

		result := throttleResetResult{Matched: len(matched), DryRun: dryRun}
		if !dryRun {
			if result.Deleted, err = db.ResetThrottles(ctx, query); err != nil {
				return err
			}
		}
		return emit(cmd, "throttle.reset", func(format output.Format) (string, error) {
			return result.render(format)
		})
	},
}

type throttleResetResult struct {
	Matched int   `json:"matched" yaml:"matched"`
	Deleted int64 `json:"deleted" yaml:"deleted"`
	DryRun  bool  `json:"dry_run" yaml:"dry_run"`
}

func (r throttleResetResult) render(format output.Format) (string, error) {
	switch format {
	case output.FormatTable, output.FormatMarkdown:
		if r.DryRun {
			return fmt.Sprintf("Would delete %d throttle entr(ies)", r.Matched), nil
		}
		return fmt.Sprintf("Deleted %d/%d throttle entr(ies)", r.Deleted, r.Matched), nil
	default:
		return output.Encode(format, r)
	}
}

func throttleQueryFromFlags(cmd *cobra.Command) (store.ThrottleQuery, error) {
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return store.ThrottleQuery{}, err
	}
	address, _ := cmd.Flags().GetString("address")
	prefix, _ := cmd.Flags().GetString("prefix")
	return store.ThrottleQuery{
		All:      all,
		Endpoint: strings.TrimSpace(address),
		Prefix:   strings.TrimSpace(prefix),
	}, nil
}

func init() {
	rootCmd.AddCommand(throttleCmd)
	throttleCmd.AddCommand(throttleListCmd)
	throttleCmd.AddCommand(throttleResetCmd)

	for _, c := range []*cobra.Command{throttleListCmd, throttleResetCmd} {
		c.Flags().Bool("all", false, "Select all endpoints")
		c.Flags().String("address", "", "Select a single endpoint address host:port (exact match)")
		c.Flags().String("prefix", "", "Select endpoint addresses with matching prefix")
		addOutputFlags(c)
	}
	throttleResetCmd.Flags().Bool("yes", false, "Confirm destructive reset")
	throttleResetCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
}
