package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/search"
	apperrors "github.com/searchlens/searchlens/internal/errors"
	"github.com/searchlens/searchlens/internal/metrics"
)

// maxQueryBytes bounds the query body accepted by the search endpoints.
const maxQueryBytes = 1 << 20

// SearchService is the cluster surface the API proxies.
type SearchService interface {
	Search(ctx context.Context, index string, query json.RawMessage, size int, scroll time.Duration) (*search.SearchResult, error)
	Count(ctx context.Context, index string, query json.RawMessage) (int64, error)
	Nodes(ctx context.Context) ([]search.Node, error)
}

// StatsSource reports the live backpressure statistics.
type StatsSource interface {
	BackpressureStats() core.StatsSnapshot
}

// SnapshotLister reads persisted statistics snapshots.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, limit int) ([]core.StatsSnapshot, error)
}

// API serves the /v1 endpoints. Snapshots may be nil when persistence is off.
type API struct {
	Search    SearchService
	Stats     StatsSource
	Snapshots SnapshotLister
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Post("/indices/{index}/search", a.SearchHandler)
	r.Post("/indices/{index}/count", a.CountHandler)
	r.Get("/nodes", a.NodesHandler)
	r.Get("/stats/backpressure", a.StatsHandler)
	r.Get("/stats/snapshots", a.SnapshotsHandler)
}

type searchRequest struct {
	Query json.RawMessage `json:"query,omitempty"`
	Size  *int            `json:"size,omitempty"`
}

type countResponse struct {
	Index string `json:"index"`
	Count int64  `json:"count"`
}

func decodeSearchRequest(r *http.Request) (searchRequest, error) {
	var req searchRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBytes))
	if err != nil {
		return req, err
	}
	if len(body) == 0 {
		return req, nil
	}
	err = json.Unmarshal(body, &req)
	return req, err
}

// SearchHandler runs one search page against the cluster.
func (a *API) SearchHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	index := chi.URLParam(r, "index")

	req, err := decodeSearchRequest(r)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON object"))
		return
	}
	size := -1
	if req.Size != nil {
		if *req.Size < 0 {
			respondWithError(w, r, apperrors.NewInvalidInputError("size must not be negative"))
			return
		}
		size = *req.Size
	}

	result, err := a.Search.Search(r.Context(), index, req.Query, size, 0)
	metrics.RecordSearch("search", err == nil, time.Since(start))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CountHandler counts documents matching the query.
func (a *API) CountHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	index := chi.URLParam(r, "index")

	req, err := decodeSearchRequest(r)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON object"))
		return
	}

	count, err := a.Search.Count(r.Context(), index, req.Query)
	metrics.RecordSearch("count", err == nil, time.Since(start))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Index: index, Count: count})
}

// NodesHandler lists cluster nodes that expose HTTP.
func (a *API) NodesHandler(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.Search.Nodes(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// StatsHandler returns the live backpressure snapshot.
func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Stats.BackpressureStats())
}

// SnapshotsHandler returns persisted snapshots, newest first.
func (a *API) SnapshotsHandler(w http.ResponseWriter, r *http.Request) {
	if a.Snapshots == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("statistics persistence is disabled"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, r, apperrors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	snaps, err := a.Snapshots.ListSnapshots(r.Context(), limit)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to read snapshots"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
