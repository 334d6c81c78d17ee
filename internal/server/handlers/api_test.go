package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
	"github.com/searchlens/searchlens/internal/core/search"
)

type stubSearch struct {
	gotIndex string
	gotQuery json.RawMessage
	gotSize  int
	err      error
}

func (s *stubSearch) Search(_ context.Context, index string, query json.RawMessage, size int, _ time.Duration) (*search.SearchResult, error) {
	s.gotIndex, s.gotQuery, s.gotSize = index, query, size
	if s.err != nil {
		return nil, s.err
	}
	return &search.SearchResult{Total: 1, Hits: []search.Hit{{Index: index, ID: "1"}}}, nil
}

func (s *stubSearch) Count(_ context.Context, index string, query json.RawMessage) (int64, error) {
	s.gotIndex, s.gotQuery = index, query
	return 42, s.err
}

func (s *stubSearch) Nodes(context.Context) ([]search.Node, error) {
	return []search.Node{{ID: "n1", Name: "es-1", Address: "10.0.0.1:9200"}}, s.err
}

type stubStats struct{}

func (stubStats) BackpressureStats() core.StatsSnapshot {
	return core.StatsSnapshot{AllTime: core.Distribution{Count: 3, Max: 200 * time.Millisecond}}
}

type stubSnapshots struct {
	limit int
}

func (s *stubSnapshots) ListSnapshots(_ context.Context, limit int) ([]core.StatsSnapshot, error) {
	s.limit = limit
	return []core.StatsSnapshot{{AllTime: core.Distribution{Count: 1}}}, nil
}

func newAPIRouter(api *API) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", api.Routes)
	return r
}

func TestSearchHandler(t *testing.T) {
	svc := &stubSearch{}
	router := newAPIRouter(&API{Search: svc, Stats: stubStats{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/indices/logs/search", strings.NewReader(`{"query":{"term":{"level":"error"}},"size":5}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logs", svc.gotIndex)
	assert.Equal(t, 5, svc.gotSize)
	assert.JSONEq(t, `{"term":{"level":"error"}}`, string(svc.gotQuery))

	var result search.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(1), result.Total)
}

func TestSearchHandlerEmptyBodyUsesDefaults(t *testing.T) {
	svc := &stubSearch{}
	router := newAPIRouter(&API{Search: svc, Stats: stubStats{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/indices/logs/search", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, svc.gotSize)
	assert.Nil(t, svc.gotQuery)
}

func TestSearchHandlerRejectsBadInput(t *testing.T) {
	router := newAPIRouter(&API{Search: &stubSearch{}, Stats: stubStats{}})

	for _, body := range []string{`not json`, `{"size":-1}`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/indices/logs/search", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestSearchHandlerMapsClientErrors(t *testing.T) {
	tests := []struct {
		kind   client.Kind
		status int
	}{
		{client.KindBackpressureExhausted, http.StatusServiceUnavailable},
		{client.KindTransportFailure, http.StatusBadGateway},
		{client.KindRequestRejected, http.StatusBadRequest},
		{client.KindTimeout, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &stubSearch{err: &client.Error{Kind: tt.kind, Attempts: 2}}
			router := newAPIRouter(&API{Search: svc, Stats: stubStats{}})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/indices/logs/search", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCountHandler(t *testing.T) {
	router := newAPIRouter(&API{Search: &stubSearch{}, Stats: stubStats{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/indices/logs/count", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"index":"logs","count":42}`, rec.Body.String())
}

func TestNodesHandler(t *testing.T) {
	router := newAPIRouter(&API{Search: &stubSearch{}, Stats: stubStats{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nodes", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "10.0.0.1:9200")
}

func TestStatsHandler(t *testing.T) {
	router := newAPIRouter(&API{Search: &stubSearch{}, Stats: stubStats{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats/backpressure", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap core.StatsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(3), snap.AllTime.Count)
	assert.Equal(t, 200*time.Millisecond, snap.AllTime.Max)
}

func TestSnapshotsHandler(t *testing.T) {
	store := &stubSnapshots{}
	router := newAPIRouter(&API{Search: &stubSearch{}, Stats: stubStats{}, Snapshots: store})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats/snapshots?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.limit)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats/snapshots?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotsHandlerWithoutPersistence(t *testing.T) {
	router := newAPIRouter(&API{Search: &stubSearch{}, Stats: stubStats{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats/snapshots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCountHandlerPropagatesPlainErrors(t *testing.T) {
	router := newAPIRouter(&API{Search: &stubSearch{err: errors.New("boom")}, Stats: stubStats{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/indices/logs/count", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
