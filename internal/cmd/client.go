package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/appid"
	"github.com/searchlens/searchlens/internal/config"
	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
	"github.com/searchlens/searchlens/internal/core/engine"
	"github.com/searchlens/searchlens/internal/core/search"
	"github.com/searchlens/searchlens/internal/core/store"
	"github.com/searchlens/searchlens/internal/metrics"
)

// session bundles the cluster client with the pieces built around it.
type session struct {
	Config   *config.Config
	Stats    *client.Stats
	Client   *client.Client
	Search   *search.Service
	Throttle *engine.Throttle
	// Store is nil unless persistence was requested.
	Store *store.Store
	// Registry is nil unless a metrics namespace was requested.
	Registry *metrics.ClientRegistry
}

type sessionOptions struct {
	// persist backs the throttle gate with the libsql store.
	persist bool
	// namespace, when set, builds a Prometheus registry over the client.
	namespace string
	logger    *logging.Logger
}

// snapshotSource adapts a Stats ring to the collector and snapshotter
// interfaces before the client exists.
type snapshotSource struct{ stats *client.Stats }

func (s snapshotSource) BackpressureStats() core.StatsSnapshot { return s.stats.Snapshot() }

// newSession builds the client described by cfg.
func newSession(ctx context.Context, cfg *config.Config, opts sessionOptions) (*session, error) {
	endpoints, err := cfg.Cluster.ParseEndpoints()
	if err != nil {
		return nil, fmt.Errorf("%w: cluster: %w", errInvalidConfig, err)
	}

	s := &session{
		Config: cfg,
		Stats:  client.NewStats(cfg.Backpressure.StatsWindow, client.DefaultStatsBuckets),
	}

	var throttleStore engine.ThrottleStore = engine.NewMemoryThrottleStore()
	if opts.persist {
		db, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.Store = db
		throttleStore = db
	}
	s.Throttle = &engine.Throttle{Store: throttleStore}
	s.Throttle.ApplyOverrides(cfg.ThrottleLimits)
	s.Throttle.ApplySafetyMargin(cfg.ThrottleMargin)

	observers := metrics.Observers{&metrics.TelemetryObserver{}}
	if opts.namespace != "" {
		reg, err := metrics.NewClientRegistry(opts.namespace, snapshotSource{s.Stats})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Registry = reg
		observers = append(observers, reg.Observer)
	}

	transport := client.NewHTTPTransport(cfg.Cluster.RequestTimeout, appid.UserAgent(ctx, versionInfo.Version))
	transport.Username = cfg.Cluster.Username
	transport.Password = cfg.Cluster.Password

	c, err := client.New(endpoints, cfg.Backpressure.Policy(),
		client.WithTransport(transport),
		client.WithStats(s.Stats),
		client.WithGate(s.Throttle),
		client.WithObserver(observers),
		client.WithRateLimit(cfg.Cluster.RequestsPerSecond, cfg.Cluster.Burst),
		client.WithLogger(opts.logger),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	s.Client = c
	s.Search = search.New(c, cfg.Cluster.Scheme, opts.logger)

	if cfg.Cluster.DiscoverNodes {
		discovered, err := s.Search.RefreshNodes(ctx)
		if err != nil {
			// Seed endpoints stay in place; discovery is an optimization.
			if opts.logger != nil {
				opts.logger.Warn("Node discovery failed; using configured endpoints", zap.Error(err))
			}
		} else if opts.logger != nil {
			opts.logger.Debug("Discovered cluster nodes", zap.Int("count", len(discovered)))
		}
	}

	return s, nil
}

// Close releases the store, if one was opened.
func (s *session) Close() {
	if s == nil || s.Store == nil {
		return
	}
	_ = s.Store.Close()
}

// recordSnapshot persists the session's stats when stats.persist is on.
// Short-lived commands use it so their backpressure shows up in history.
func (s *session) recordSnapshot(ctx context.Context) {
	if s == nil || s.Store == nil || !s.Config.Stats.Persist {
		return
	}
	snap := &engine.Snapshotter{Source: snapshotSource{s.Stats}, Store: s.Store, Logger: s.logger()}
	_ = snap.Record(ctx)
}

func (s *session) logger() *logging.Logger {
	if s == nil || s.Search == nil {
		return nil
	}
	return s.Search.Logger
}
