package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/server/handlers"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check to verify the application can start successfully.
With --cluster the configured cluster is also asked for its health status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		checkCluster, err := cmd.Flags().GetBool("cluster")
		if err != nil {
			return err
		}
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			logger.Error("❌ FAIL: Version information missing")
			return fmt.Errorf("%w: version information missing", errInvalidConfig)
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		logger.Info("✅ Version information available")
		logger.Info("✅ Logger initialized")

		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			logger.Error("❌ FAIL: Configuration invalid", zap.Error(err))
			return err
		}
		logger.Info("✅ Configuration valid", zap.Strings("endpoints", cfg.Cluster.Endpoints))

		if !checkCluster {
			logger.Info("")
			logger.Info("✅ All health checks passed")
			return nil
		}

		sess, err := newSession(ctx, cfg, sessionOptions{logger: logger})
		if err != nil {
			return err
		}
		defer sess.Close()

		checkCtx, cancel := context.WithTimeout(ctx, cfg.Backpressure.MaxElapsed+cfg.Cluster.RequestTimeout)
		defer cancel()
		start := time.Now()
		checker := handlers.ClusterHealthChecker{Health: sess.Search.ClusterHealth}
		if err := checker.CheckHealth(checkCtx); errors.Is(err, handlers.ErrDegraded) {
			logger.Warn("⚠️  Cluster degraded", zap.Error(err))
		} else if err != nil {
			logger.Error("❌ FAIL: Cluster unhealthy", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
			return err
		} else {
			logger.Info("✅ Cluster healthy", zap.Duration("elapsed", time.Since(start)))
		}

		logger.Info("")
		logger.Info("✅ All health checks passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().Bool("cluster", false, "also check the cluster health status")
}
