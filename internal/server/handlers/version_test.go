package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/core/search"
)

func TestVersionHandlerIncludesIdentityMetadata(t *testing.T) {
	SetVersionInfo("1.2.3", "abcd123", "2025-11-07T12:00:00Z")
	SetAppIdentity(&appidentity.Identity{BinaryName: "searchlens"})
	SetClusterInfo(nil)
	t.Cleanup(func() { SetAppIdentity(nil) })

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "searchlens", resp.App.Name)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
	assert.NotEmpty(t, resp.Dependencies.Crucible)
	assert.Nil(t, resp.Cluster)
}

func TestVersionHandlerReportsCluster(t *testing.T) {
	SetClusterInfo(func(context.Context) (*search.ClusterInfo, error) {
		return &search.ClusterInfo{ClusterName: "prod", Version: "8.13.0"}, nil
	})
	t.Cleanup(func() { SetClusterInfo(nil) })

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Cluster)
	assert.Equal(t, "8.13.0", resp.Cluster.Version)
}

func TestVersionHandlerSkipsUnreachableCluster(t *testing.T) {
	SetClusterInfo(func(context.Context) (*search.ClusterInfo, error) {
		return nil, errors.New("connection refused")
	})
	t.Cleanup(func() { SetClusterInfo(nil) })

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Nil(t, resp.Cluster)
}
