package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		want    string
		wantErr bool
	}{
		{
			name: "RemoteURLGetsAuthToken",
			cfg:  config.StoreConfig{URL: "libsql://stats.turso.io", AuthToken: "token123"},
			want: "libsql://stats.turso.io?authToken=token123",
		},
		{
			name: "RemoteURLKeepsExistingQuery",
			cfg:  config.StoreConfig{URL: "libsql://stats.turso.io?foo=bar", AuthToken: "token123"},
			want: "libsql://stats.turso.io?authToken=token123&foo=bar",
		},
		{
			name: "FilePrefixPassesThrough",
			cfg:  config.StoreConfig{Path: "file:./searchlens.db"},
			want: "file:./searchlens.db",
		},
		{
			name: "Memory",
			cfg:  config.StoreConfig{Path: ":memory:"},
			want: ":memory:",
		},
		{
			name:    "NothingConfigured",
			cfg:     config.StoreConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := buildLibsqlDSN(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dsn)
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	assert.ErrorContains(t, err, "unsupported store driver")
}

func TestThrottleQueryValidate(t *testing.T) {
	assert.Error(t, ThrottleQuery{}.Validate())
	assert.NoError(t, ThrottleQuery{All: true}.Validate())
	assert.NoError(t, ThrottleQuery{Endpoint: "es-1:9200"}.Validate())
	assert.NoError(t, ThrottleQuery{Prefix: "es-"}.Validate())
}
