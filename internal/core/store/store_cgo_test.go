//go:build cgo

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
		require.NoError(t, err)
		assert.Equal(t, "libsql", s.Driver())
		require.NoError(t, s.Close())
	})

	t.Run("LocalFileUsesWALAndSingleWriter", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Path: "file:" + t.TempDir() + "/searchlens.db"})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()

		assert.Equal(t, 1, s.DB.Stats().MaxOpenConnections)

		var journalMode string
		require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
		assert.Contains(t, journalMode, "wal")

		var busyTimeout int
		require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.GreaterOrEqual(t, busyTimeout, 1000)
	})
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()

		require.NoError(t, s.Migrate(ctx))
		require.NoError(t, s.Migrate(ctx))

		var tables int
		require.NoError(t, s.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('endpoint_throttle', 'backpressure_snapshots')`).Scan(&tables))
		assert.Equal(t, 2, tables)
	})

	t.Run("AddsBackpressureCountToOlderTable", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Path: "file:" + t.TempDir() + "/legacy.db"})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()

		_, err = s.DB.ExecContext(ctx, `CREATE TABLE endpoint_throttle (
			endpoint TEXT PRIMARY KEY,
			request_count INTEGER NOT NULL DEFAULT 0,
			window_start INTEGER NOT NULL,
			backoff_until INTEGER,
			last_backpressure_at INTEGER
		)`)
		require.NoError(t, err)
		_, err = s.DB.ExecContext(ctx, `INSERT INTO endpoint_throttle (endpoint, request_count, window_start) VALUES ('es-1:9200', 2, 0)`)
		require.NoError(t, err)

		require.NoError(t, s.Migrate(ctx))

		var count int
		require.NoError(t, s.DB.QueryRowContext(ctx,
			`SELECT backpressure_count FROM endpoint_throttle WHERE endpoint = 'es-1:9200'`).Scan(&count))
		assert.Zero(t, count)
	})
}
