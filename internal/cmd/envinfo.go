package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/searchlens/searchlens/internal/config"
	"github.com/searchlens/searchlens/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		identity := GetAppIdentity()
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + identity.BinaryName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			observability.CLILogger.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			observability.CLILogger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		observability.CLILogger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("")

		// Cluster
		observability.CLILogger.Info("Cluster:")
		observability.CLILogger.Info("  Endpoints:        "+strings.Join(cfg.Cluster.Endpoints, ", "), zap.Strings("endpoints", cfg.Cluster.Endpoints))
		observability.CLILogger.Info("  Scheme:           " + cfg.Cluster.Scheme)
		observability.CLILogger.Info("  Request Timeout:  " + cfg.Cluster.RequestTimeout.String())
		observability.CLILogger.Info(fmt.Sprintf("  Discover Nodes:   %t", cfg.Cluster.DiscoverNodes))
		if cfg.Cluster.Username != "" {
			observability.CLILogger.Info("  Credentials:      (set)")
		} else {
			observability.CLILogger.Info("  Credentials:      (not set)")
		}
		if cfg.Cluster.RequestsPerSecond > 0 {
			observability.CLILogger.Info(fmt.Sprintf("  Rate Limit:       %.1f req/s (burst %d)", cfg.Cluster.RequestsPerSecond, cfg.Cluster.Burst))
		} else {
			observability.CLILogger.Info("  Rate Limit:       (off)")
		}
		observability.CLILogger.Info("")

		// Backpressure policy
		policy := cfg.Backpressure.Policy()
		observability.CLILogger.Info("Backpressure:")
		observability.CLILogger.Info("  Base Delay:        " + policy.BaseDelay.String())
		observability.CLILogger.Info("  Max Delay:         " + policy.MaxDelay.String())
		observability.CLILogger.Info(fmt.Sprintf("  Max Retries:       %d", policy.MaxRetries), zap.Int("max_retries", policy.MaxRetries))
		observability.CLILogger.Info("  Max Elapsed:       " + policy.MaxElapsed.String())
		observability.CLILogger.Info(fmt.Sprintf("  Jitter:            [%.2f, %.2f]", policy.JitterMin, policy.JitterMax))
		observability.CLILogger.Info("  Max Single Wait:   " + policy.MaxWait().String())
		observability.CLILogger.Info(fmt.Sprintf("  Transport Retries: %d", policy.TransportRetries))
		observability.CLILogger.Info("  Stats Window:      " + cfg.Backpressure.StatsWindow.String())
		observability.CLILogger.Info("")

		// Throttle gate and stats persistence
		observability.CLILogger.Info("Throttle:")
		observability.CLILogger.Info(fmt.Sprintf("  Per-endpoint Limits: %d", len(cfg.ThrottleLimits)), zap.Int("throttle_limits", len(cfg.ThrottleLimits)))
		observability.CLILogger.Info(fmt.Sprintf("  Safety Margin:       %.2f", cfg.ThrottleMargin))
		observability.CLILogger.Info(fmt.Sprintf("  Persist Stats:       %t", cfg.Stats.Persist))
		if cfg.Stats.Persist {
			observability.CLILogger.Info("  Snapshot Interval:   " + cfg.Stats.SnapshotInterval.String())
		}
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
