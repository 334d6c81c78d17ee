package cmd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var (
	extended       bool
	versionCluster bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information. Use --extended for full details including
Crucible and Go versions, and --cluster to also ask the cluster for its version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		fmt.Printf("%s %s\n", identity.BinaryName, versionInfo.Version)

		if extended {
			fmt.Printf("Commit: %s\n", versionInfo.Commit)
			fmt.Printf("Built: %s\n", versionInfo.BuildDate)
			fmt.Printf("Go: %s\n", runtime.Version())
			fmt.Printf("\n")

			version := crucible.GetVersion()
			fmt.Printf("Gofulmen: %s\n", version.Gofulmen)
			fmt.Printf("Crucible: %s\n", version.Crucible)
		}

		if !versionCluster {
			return nil
		}
		return clusterCommand(cmd, func(ctx context.Context, sess *session) error {
			info, err := sess.Search.Info(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\nCluster: %s (node %s)\n", info.ClusterName, info.Name)
			distribution := info.Distribution
			if distribution == "" {
				distribution = "elasticsearch"
			}
			fmt.Printf("Server: %s %s\n", distribution, info.Version)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	versionCmd.Flags().BoolVar(&versionCluster, "cluster", false, "also query the cluster version")
}
