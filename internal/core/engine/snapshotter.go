package engine

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/metrics"
)

// SnapshotStore persists stats snapshots.
type SnapshotStore interface {
	RecordSnapshot(ctx context.Context, snap core.StatsSnapshot) error
}

// Snapshotter periodically writes a client's backpressure stats to a store.
type Snapshotter struct {
	Source   StatsSource
	Store    SnapshotStore
	Interval time.Duration
	Logger   *logging.Logger
}

// Run records a snapshot every Interval until ctx is done, then records a
// final one so short-lived runs still leave a row behind.
func (s *Snapshotter) Run(ctx context.Context) {
	if s == nil || s.Source == nil || s.Store == nil {
		return
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = s.Record(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = s.Record(ctx)
		}
	}
}

// Record writes one snapshot now.
func (s *Snapshotter) Record(ctx context.Context) error {
	snap := s.Source.BackpressureStats()
	if err := s.Store.RecordSnapshot(ctx, snap); err != nil {
		metrics.RecordSnapshot(false)
		if s.Logger != nil {
			s.Logger.Warn("failed to persist backpressure snapshot", zap.Error(err))
		}
		return err
	}
	metrics.RecordSnapshot(true)
	if s.Logger != nil {
		s.Logger.Debug("backpressure snapshot persisted",
			zap.Int64("count", snap.AllTime.Count),
			zap.Duration("max", snap.AllTime.Max))
	}
	return nil
}
