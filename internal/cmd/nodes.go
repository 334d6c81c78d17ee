package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/output"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the cluster's HTTP-enabled nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, err := cmd.Flags().GetBool("refresh")
		if err != nil {
			return err
		}

		return clusterCommand(cmd, func(ctx context.Context, sess *session) error {
			nodes, err := sess.Search.Nodes(ctx)
			if err != nil {
				return err
			}
			if refresh {
				pool, err := sess.Search.RefreshNodes(ctx)
				if err != nil {
					return err
				}
				observability.CLILogger.Debug("Endpoint pool refreshed", zap.Int("endpoints", len(pool)))
			}
			return emit(cmd, "nodes", func(format output.Format) (string, error) {
				return output.FormatNodes(format, nodes)
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(nodesCmd)
	nodesCmd.Flags().Bool("refresh", false, "Also swap the client pool to the discovered nodes")
	addOutputFlags(nodesCmd)
}
