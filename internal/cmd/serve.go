package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/config"
	"github.com/searchlens/searchlens/internal/core/engine"
	errwrap "github.com/searchlens/searchlens/internal/errors"
	"github.com/searchlens/searchlens/internal/metrics"
	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/server"
	"github.com/searchlens/searchlens/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search gateway HTTP server",
	Long: `Start an HTTP gateway in front of the cluster. Searches proxied through
it share one backpressure-aware client, whose statistics are exposed at
/v1/stats/backpressure and /metrics/client.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload throttle limits and margin`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	cfg, err := loadConfig(ctx, serveOverrides(cmd))
	if err != nil {
		return err
	}

	observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	sess, err := newSession(ctx, cfg, sessionOptions{
		persist:   cfg.Stats.Persist,
		namespace: namespace,
		logger:    logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("endpoints", cfg.Cluster.Endpoints),
		zap.Bool("stats_persist", cfg.Stats.Persist))

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("cluster", handlers.ClusterHealthChecker{Health: sess.Search.ClusterHealth})
	health.RegisterChecker("app_identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	if cfg.Metrics.Enabled {
		health.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	if sess.Store != nil {
		health.RegisterChecker("store", handlers.HealthCheckerFunc(func(ctx context.Context) error {
			return sess.Store.DB.PingContext(ctx)
		}))
	}

	handlers.SetAppIdentity(identity)
	handlers.SetClusterInfo(sess.Search.Info)

	api := &handlers.API{Search: sess.Search, Stats: sess.Client}
	if sess.Store != nil {
		api.Snapshots = sess.Store
	}
	opts := server.Options{
		API:          api,
		Health:       health,
		WriteTimeout: gatewayWriteTimeout(cfg),
	}
	if sess.Registry != nil {
		opts.ClientMetrics = sess.Registry.Handler()
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts)

	snapCtx, stopSnapshots := context.WithCancel(context.WithoutCancel(ctx))
	snapDone := make(chan struct{})
	if sess.Store != nil && cfg.Stats.Persist {
		snapshotter := &engine.Snapshotter{
			Source:   sess.Client,
			Store:    sess.Store,
			Interval: cfg.Stats.SnapshotInterval,
			Logger:   logger,
		}
		go func() {
			defer close(snapDone)
			snapshotter.Run(snapCtx)
		}()
	} else {
		close(snapDone)
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: the last registered runs first.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			// Sync errors are often benign (stdout/stderr already closed)
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Metrics exporter stop returned error", zap.Error(err))
			}
			return nil
		})
	}

	signals.OnShutdown(func(ctx context.Context) error {
		stopSnapshots()
		select {
		case <-snapDone:
		case <-time.After(shutdownTimeout):
			logger.Warn("Snapshotter did not stop in time")
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: reloading configuration")
		next, err := loadConfig(ctx, serveOverrides(cmd))
		if err != nil {
			logger.Error("Config reload failed", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		applyReload(sess, next)
		logger.Info("Configuration reloaded",
			zap.Int("throttle_limits", len(next.ThrottleLimits)),
			zap.Float64("throttle_margin", next.ThrottleMargin))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	startedAt := time.Now()
	metrics.SetServerStartTime(startedAt.Unix())
	go reportUptime(snapCtx, startedAt)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		stopSnapshots()
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}

// serveOverrides maps explicitly set --host/--port onto the server section.
func serveOverrides(cmd *cobra.Command) map[string]any {
	section := map[string]any{}
	if cmd.Flags().Changed("host") {
		section["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		section["port"] = serverPort
	}
	if len(section) == 0 {
		return nil
	}
	return map[string]any{"server": section}
}

// gatewayWriteTimeout stretches the server write timeout to cover one full
// backpressure budget plus a final attempt.
func gatewayWriteTimeout(cfg *config.Config) time.Duration {
	needed := cfg.Backpressure.MaxElapsed + cfg.Cluster.RequestTimeout + 5*time.Second
	if cfg.Server.WriteTimeout > needed {
		return cfg.Server.WriteTimeout
	}
	return needed
}

// applyReload pushes the reloadable settings of next into a running session.
// Limits missing from next are lifted. Endpoint, policy and logging changes
// need a restart.
func applyReload(sess *session, next *config.Config) {
	sess.Throttle.ReplaceOverrides(next.ThrottleLimits)
	sess.Throttle.ApplySafetyMargin(next.ThrottleMargin)
}

func reportUptime(ctx context.Context, startedAt time.Time) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
}
