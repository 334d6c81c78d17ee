package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/config"
	"github.com/searchlens/searchlens/internal/core/store"
	"github.com/searchlens/searchlens/internal/observability"
)

// doctorClusterTimeout bounds the reachability check so an unreachable
// cluster does not sit through the whole backpressure budget.
const doctorClusterTimeout = 10 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and the configured cluster, and suggest fixes for common issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.CLILogger
		identity := GetAppIdentity()
		bannerName := "doctor"
		if identity != nil && identity.BinaryName != "" {
			bannerName = identity.BinaryName + " doctor"
		}
		logger.Info("=== " + bannerName + " ===")
		logger.Info("")
		logger.Info("Running diagnostic checks...")
		logger.Info("")

		allChecks := true
		totalChecks := 7
		step := func(n int, label string) string { return fmt.Sprintf("[%d/%d] %s...", n, totalChecks, label) }

		// Go version
		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			logger.Info(step(1, "Checking Go version")+" ✅ "+goVersion, zap.String("go_version", goVersion))
		} else {
			logger.Warn(step(1, "Checking Go version")+" ⚠️  "+goVersion+" (recommended: go1.23+)", zap.String("go_version", goVersion))
			allChecks = false
		}

		// Crucible and gofulmen
		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			logger.Info(step(2, "Checking Crucible/Gofulmen")+fmt.Sprintf(" ✅ crucible v%s, gofulmen v%s", version.Crucible, version.Gofulmen),
				zap.String("crucible_version", version.Crucible),
				zap.String("gofulmen_version", version.Gofulmen))
		} else {
			logger.Error(step(2, "Checking Crucible/Gofulmen") + " ❌ version metadata unavailable")
			allChecks = false
		}

		// Config directory
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			logger.Error(step(3, "Checking config directory") + " ❌ Cannot resolve config directory")
			allChecks = false
		} else {
			configDir := filepath.Dir(configPath)
			logger.Info(step(3, "Checking config directory")+" ✅ "+configDir, zap.String("config_dir", configDir))
		}

		// Configuration
		cfg, cfgErr := loadConfig(ctx)
		if cfgErr != nil {
			logger.Error(step(4, "Checking configuration")+" ❌ invalid", zap.Error(cfgErr))
			logger.Info("")
			logger.Warn("⚠️  Remaining checks need a valid configuration (run '" + bannerBinary() + " doctor validate').")
			return cfgErr
		}
		logger.Info(step(4, "Checking configuration")+fmt.Sprintf(" ✅ %d endpoint(s)", len(cfg.Cluster.Endpoints)),
			zap.Strings("endpoints", cfg.Cluster.Endpoints))

		// Database
		if ok := doctorDatabase(step(5, "Checking database"), cfg); !ok {
			allChecks = false
		}

		// Throttle state
		if ok := doctorThrottles(ctx, step(6, "Checking throttle state"), cfg); !ok {
			allChecks = false
		}

		// Cluster reachability
		if ok := doctorCluster(ctx, step(7, "Checking cluster"), cfg); !ok {
			allChecks = false
		}

		logger.Info("")
		if allChecks {
			logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerBinary()))
		} else {
			logger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		logger.Info("")
		logger.Info("=== End Diagnostics ===")
		return nil
	},
}

func bannerBinary() string {
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		return identity.BinaryName
	}
	return "searchlens"
}

func doctorDatabase(label string, cfg *config.Config) bool {
	logger := observability.CLILogger
	if cfg.Store.URL != "" {
		logger.Info(label+" ✅ "+cfg.Store.URL+" (remote)", zap.String("db_url", cfg.Store.URL))
		return true
	}
	absPath, _ := filepath.Abs(cfg.Store.Path)
	info, err := os.Stat(absPath)
	switch {
	case err == nil:
		logger.Info(label+fmt.Sprintf(" ✅ %s (%s)", absPath, formatFileSize(info.Size())),
			zap.String("db_path", absPath),
			zap.Int64("db_size", info.Size()))
		return true
	case os.IsNotExist(err):
		logger.Warn(label+" ⚠️  "+absPath+" (not created yet)", zap.String("db_path", absPath))
		return true
	default:
		logger.Warn(label+" ⚠️  "+absPath, zap.String("db_path", absPath), zap.Error(err))
		return false
	}
}

func doctorThrottles(ctx context.Context, label string, cfg *config.Config) bool {
	logger := observability.CLILogger
	db, err := openStore(ctx, cfg)
	if err != nil {
		logger.Warn(label+" ⚠️  cannot open store", zap.Error(err))
		return false
	}
	defer db.Close() // nolint:errcheck

	entries, err := db.ListThrottles(ctx, store.ThrottleQuery{All: true})
	if err != nil {
		logger.Warn(label+" ⚠️  cannot read throttle state", zap.Error(err))
		return false
	}

	now := time.Now()
	backingOff := 0
	var lastPressure time.Time
	for _, e := range entries {
		if e.BackoffUntil != nil && now.Before(*e.BackoffUntil) {
			backingOff++
		}
		if e.LastBackpressure != nil && e.LastBackpressure.After(lastPressure) {
			lastPressure = *e.LastBackpressure
		}
	}
	if backingOff > 0 {
		logger.Warn(label+fmt.Sprintf(" ⚠️  %d endpoint(s) in backoff (run '%s throttle list')", backingOff, bannerBinary()),
			zap.Int("backing_off", backingOff))
		return true
	}
	msg := fmt.Sprintf(" ✅ %d endpoint(s) tracked", len(entries))
	if !lastPressure.IsZero() {
		msg += ", last backpressure " + formatTimeAgo(lastPressure)
	}
	logger.Info(label+msg, zap.Int("tracked", len(entries)))
	return true
}

func doctorCluster(ctx context.Context, label string, cfg *config.Config) bool {
	logger := observability.CLILogger
	sess, err := newSession(ctx, cfg, sessionOptions{})
	if err != nil {
		logger.Error(label+" ❌ cannot build client", zap.Error(err))
		return false
	}
	defer sess.Close()

	checkCtx, cancel := context.WithTimeout(ctx, doctorClusterTimeout)
	defer cancel()
	start := time.Now()
	info, err := sess.Search.Info(checkCtx)
	if err != nil {
		logger.Error(label+" ❌ unreachable", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return false
	}

	snap := sess.Stats.Snapshot()
	logger.Info(label+fmt.Sprintf(" ✅ %s %s (cluster %s)", info.Name, info.Version, info.ClusterName),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("backpressure_events", snap.AllTime.Count))
	if snap.AllTime.Count > 0 {
		logger.Warn(fmt.Sprintf("       The cluster pushed back %d time(s) on a single request; it is under load.", snap.AllTime.Count))
	}
	return true
}

var (
	doctorInitForce   bool
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	Long: `Write a starter config file. Cluster endpoints come from --endpoint or are
prompted for; press enter to keep localhost:9200.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		seeds := cleanEndpoints(endpoints)
		if len(seeds) == 0 {
			value, err := promptForValue("Cluster endpoints, comma separated [localhost:9200]: ")
			if err != nil {
				return err
			}
			seeds = cleanEndpoints(strings.Split(value, ","))
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(buildInitConfig(seeds)), 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.CLILogger
		configPath := config.DefaultConfigPath()

		dataDir := config.DefaultDataDir()
		cacheDir := config.DefaultCacheDir()

		logger.Info("Configuration:")
		logger.Info(fmt.Sprintf("  Config file:     %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		if dataDir != "" {
			logger.Info(fmt.Sprintf("  Data directory:  %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		} else {
			logger.Info("  Data directory:  (not resolved)")
		}
		if cacheDir != "" {
			logger.Info(fmt.Sprintf("  Cache directory: %s (%s)", cacheDir, existenceStatus(fileExists(cacheDir))))
		} else {
			logger.Info("  Cache directory: (not resolved)")
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			logger.Warn("Config load failed", zap.Error(err))
			return nil
		}
		if cfg.Store.URL != "" {
			logger.Info(fmt.Sprintf("  Database:        %s (remote)", cfg.Store.URL))
		} else {
			absPath, _ := filepath.Abs(cfg.Store.Path)
			if info, statErr := os.Stat(absPath); statErr == nil {
				logger.Info(fmt.Sprintf("  Database:        %s (%s)", absPath, formatFileSize(info.Size())))
			} else {
				logger.Info(fmt.Sprintf("  Database:        %s (not created yet)", absPath))
			}
		}

		prefix := "SEARCHLENS_"
		if identity := GetAppIdentity(); identity != nil && identity.EnvPrefix != "" {
			prefix = identity.EnvPrefix
		}
		logger.Info("")
		logger.Info("Environment:")
		for _, name := range []string{"CONFIG", "CLUSTER_ENDPOINTS", "CLUSTER_USERNAME", "CLUSTER_PASSWORD"} {
			logger.Info(fmt.Sprintf("  %s%s: %s", prefix, name, envStatus(prefix+name)))
		}

		logger.Info("")
		logger.Info("Effective Settings:")
		logger.Info("  cluster.endpoints: " + strings.Join(cfg.Cluster.Endpoints, ", "))
		logger.Info(fmt.Sprintf("  backpressure.max_retries: %d", cfg.Backpressure.MaxRetries))
		logger.Info("  backpressure.max_elapsed: " + cfg.Backpressure.MaxElapsed.String())
		logger.Info(fmt.Sprintf("  stats.persist: %t", cfg.Stats.Persist))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := os.Remove(configPath); err == nil {
				observability.CLILogger.Info("Config removed", zap.String("path", configPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
			} else {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}

			absPath, _ := filepath.Abs(cfg.Store.Path)
			if err := os.Remove(absPath); err == nil {
				observability.CLILogger.Info("Database removed", zap.String("path", absPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Database already removed", zap.String("path", absPath))
			} else {
				return fmt.Errorf("remove database: %w", err)
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid",
			zap.String("path", config.DefaultConfigPath()),
			zap.Strings("endpoints", cfg.Cluster.Endpoints))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatTimeAgo returns a human-readable relative time
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func buildInitConfig(seeds []string) string {
	if len(seeds) == 0 {
		seeds = []string{"localhost:9200"}
	}
	lines := []string{
		"# searchlens config - created by 'searchlens doctor init'",
		"cluster:",
		"  endpoints:",
	}
	for _, seed := range seeds {
		lines = append(lines, fmt.Sprintf("    - %q", seed))
	}
	lines = append(lines,
		"  # username: \"\"  # or set SEARCHLENS_CLUSTER_USERNAME",
		"  # password: \"\"  # or set SEARCHLENS_CLUSTER_PASSWORD",
		"backpressure:",
		"  base_delay: 50ms",
		"  max_delay: 2s",
		"  max_retries: 10",
		"  max_elapsed: 1m",
		"stats:",
		"  persist: false",
	)
	return strings.Join(lines, "\n") + "\n"
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
