package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/searchlens/searchlens/internal/core"
)

// ThrottleQuery selects endpoint_throttle rows for admin commands.
type ThrottleQuery struct {
	All      bool
	Endpoint string
	Prefix   string
}

func (q ThrottleQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Endpoint) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --address, or --prefix")
}

func (q ThrottleQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if endpoint := strings.TrimSpace(q.Endpoint); endpoint != "" {
		return "WHERE endpoint = ?", []any{endpoint}, nil
	}
	return "WHERE endpoint LIKE ?", []any{strings.TrimSpace(q.Prefix) + "%"}, nil
}

const throttleColumns = `endpoint, request_count, window_start, backoff_until, last_backpressure_at, backpressure_count`

type throttleRow struct {
	endpoint         string
	requestCount     int
	windowStart      int64
	backoffUntil     sql.NullInt64
	lastBackpressure sql.NullInt64
	backpressure     int
}

func (r *throttleRow) dest() []any {
	return []any{&r.endpoint, &r.requestCount, &r.windowStart, &r.backoffUntil, &r.lastBackpressure, &r.backpressure}
}

func (r *throttleRow) state() core.ThrottleState {
	state := core.ThrottleState{
		RequestCount:      r.requestCount,
		WindowStart:       time.UnixMilli(r.windowStart).UTC(),
		BackpressureCount: r.backpressure,
	}
	if r.backoffUntil.Valid {
		value := time.UnixMilli(r.backoffUntil.Int64).UTC()
		state.BackoffUntil = &value
	}
	if r.lastBackpressure.Valid {
		value := time.UnixMilli(r.lastBackpressure.Int64).UTC()
		state.LastBackpressure = &value
	}
	return state
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

// GetThrottle returns stored throttle state for an endpoint, or nil.
func (s *Store) GetThrottle(ctx context.Context, endpoint string) (*core.ThrottleState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	var row throttleRow
	err := s.DB.QueryRowContext(ctx, `
		SELECT `+throttleColumns+`
		FROM endpoint_throttle
		WHERE endpoint = ?
	`, endpoint).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch throttle: %w", err)
	}

	state := row.state()
	return &state, nil
}

// UpdateThrottle upserts throttle state for an endpoint.
func (s *Store) UpdateThrottle(ctx context.Context, endpoint string, state *core.ThrottleState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}
	if state == nil {
		return errors.New("throttle state is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO endpoint_throttle (`+throttleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			request_count = excluded.request_count,
			window_start = excluded.window_start,
			backoff_until = excluded.backoff_until,
			last_backpressure_at = excluded.last_backpressure_at,
			backpressure_count = excluded.backpressure_count
	`, endpoint, state.RequestCount, state.WindowStart.UTC().UnixMilli(),
		nullMillis(state.BackoffUntil), nullMillis(state.LastBackpressure), state.BackpressureCount)
	if err != nil {
		return fmt.Errorf("store throttle: %w", err)
	}
	return nil
}

// ListThrottles returns matching rows ordered by endpoint.
func (s *Store) ListThrottles(ctx context.Context, q ThrottleQuery) ([]core.ThrottleEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM endpoint_throttle
		%s
		ORDER BY endpoint
	`, throttleColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list throttles: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []core.ThrottleEntry{}
	for rows.Next() {
		var row throttleRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan throttles: %w", err)
		}
		entries = append(entries, core.ThrottleEntry{Endpoint: row.endpoint, ThrottleState: row.state()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list throttles: %w", err)
	}
	return entries, nil
}

// ResetThrottles deletes matching rows and reports how many were removed.
func (s *Store) ResetThrottles(ctx context.Context, q ThrottleQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM endpoint_throttle %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset throttles: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset throttles: %w", err)
	}
	return affected, nil
}
