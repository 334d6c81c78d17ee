package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/searchlens/searchlens/internal/core"
)

// DefaultSnapshotLimit bounds ListSnapshots when no limit is given.
const DefaultSnapshotLimit = 50

// RecordSnapshot appends one backpressure stats snapshot.
func (s *Store) RecordSnapshot(ctx context.Context, snap core.StatsSnapshot) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO backpressure_snapshots (
			taken_at, count, min_ns, max_ns, avg_ns, total_ns,
			window_count, window_max_ns, window_span_ns, rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		takenAt.UTC().UnixMilli(),
		snap.AllTime.Count, int64(snap.AllTime.Min), int64(snap.AllTime.Max),
		int64(snap.AllTime.Avg), int64(snap.AllTime.Total),
		snap.Window.Count, int64(snap.Window.Max), int64(snap.Span), snap.Rate,
	)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the most recent snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]core.StatsSnapshot, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT taken_at, count, min_ns, max_ns, avg_ns, total_ns,
			window_count, window_max_ns, window_span_ns, rate
		FROM backpressure_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	snaps := []core.StatsSnapshot{}
	for rows.Next() {
		var (
			takenAt                         int64
			count, minNs, maxNs, avg, total int64
			windowCount, windowMax, span    int64
			rate                            float64
		)
		if err := rows.Scan(&takenAt, &count, &minNs, &maxNs, &avg, &total, &windowCount, &windowMax, &span, &rate); err != nil {
			return nil, fmt.Errorf("scan snapshots: %w", err)
		}
		snaps = append(snaps, core.StatsSnapshot{
			AllTime: core.Distribution{
				Count: count,
				Min:   time.Duration(minNs),
				Max:   time.Duration(maxNs),
				Avg:   time.Duration(avg),
				Total: time.Duration(total),
			},
			Window: core.Distribution{
				Count: windowCount,
				Max:   time.Duration(windowMax),
			},
			Span:    time.Duration(span),
			Rate:    rate,
			TakenAt: time.UnixMilli(takenAt).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// PruneSnapshots deletes snapshots older than cutoff.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := s.DB.ExecContext(ctx, `DELETE FROM backpressure_snapshots WHERE taken_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return result.RowsAffected()
}
