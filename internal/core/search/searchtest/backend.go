// Package searchtest provides an in-memory search backend for tests.
package searchtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// Backend serves a fixed document set over a minimal search API:
// _search with scroll, _search/scroll, _count, _nodes/http and _cluster/health.
type Backend struct {
	Index     string
	Docs      []json.RawMessage
	NodeAddrs []string
	Health    string

	mu       sync.Mutex
	scrolls  map[string]*cursor
	nextID   atomic.Int64
	requests atomic.Int64
}

type cursor struct {
	offset int
	size   int
}

// NewBackend returns a backend holding n documents in index.
func NewBackend(index string, n int) *Backend {
	docs := make([]json.RawMessage, n)
	for i := range docs {
		docs[i] = json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
	}
	return &Backend{Index: index, Docs: docs, Health: "green", scrolls: map[string]*cursor{}}
}

// Requests reports how many requests the backend served.
func (b *Backend) Requests() int64 {
	return b.requests.Load()
}

// OpenScrolls reports cursors not yet cleared.
func (b *Backend) OpenScrolls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scrolls)
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.requests.Add(1)
	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"name":         "searchtest-node-0",
			"cluster_name": "searchtest",
			"version":      map[string]any{"number": "8.13.0", "distribution": "searchtest"},
		})
	case path == "_cluster/health":
		writeJSON(w, http.StatusOK, map[string]any{"status": b.Health})
	case path == "_nodes/http":
		b.serveNodes(w)
	case path == "_search/scroll" && r.Method == http.MethodDelete:
		b.serveClear(w, r)
	case path == "_search/scroll":
		b.serveScroll(w, r)
	case path == b.Index+"/_search":
		b.serveSearch(w, r)
	case path == b.Index+"/_count":
		writeJSON(w, http.StatusOK, map[string]any{"count": len(b.Docs)})
	case strings.HasSuffix(path, "/_search") || strings.HasSuffix(path, "/_count"):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":  map[string]any{"type": "index_not_found_exception", "reason": "no such index"},
			"status": http.StatusNotFound,
		})
	default:
		http.NotFound(w, r)
	}
}

func (b *Backend) serveSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Size  *int            `json:"size"`
		Query json.RawMessage `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "parsing_exception"}})
		return
	}
	size := 10
	if body.Size != nil {
		size = *body.Size
	}

	var scrollID string
	if r.URL.Query().Get("scroll") != "" {
		scrollID = fmt.Sprintf("scroll-%d", b.nextID.Add(1))
		b.mu.Lock()
		b.scrolls[scrollID] = &cursor{offset: min(size, len(b.Docs)), size: size}
		b.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, b.page(scrollID, 0, size))
}

func (b *Backend) serveScroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScrollID string `json:"scroll_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	cur, ok := b.scrolls[body.ScrollID]
	var offset, size int
	if ok {
		offset, size = cur.offset, cur.size
		cur.offset = min(cur.offset+cur.size, len(b.Docs))
	}
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "search_context_missing_exception"}})
		return
	}
	writeJSON(w, http.StatusOK, b.page(body.ScrollID, offset, size))
}

func (b *Backend) serveClear(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScrollID []string `json:"scroll_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	freed := 0
	b.mu.Lock()
	for _, id := range body.ScrollID {
		if _, ok := b.scrolls[id]; ok {
			delete(b.scrolls, id)
			freed++
		}
	}
	b.mu.Unlock()
	status := http.StatusOK
	if freed == 0 {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"succeeded": freed > 0, "num_freed": freed})
}

func (b *Backend) serveNodes(w http.ResponseWriter) {
	nodes := map[string]any{}
	for i, addr := range b.NodeAddrs {
		nodes[fmt.Sprintf("node-%d", i)] = map[string]any{
			"name": fmt.Sprintf("es-%d", i),
			"http": map[string]any{"publish_address": addr},
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (b *Backend) page(scrollID string, offset, size int) map[string]any {
	end := min(offset+size, len(b.Docs))
	hits := make([]map[string]any, 0, max(end-offset, 0))
	for i := offset; i < end; i++ {
		hits = append(hits, map[string]any{
			"_index":  b.Index,
			"_id":     fmt.Sprintf("%d", i),
			"_score":  1.0,
			"_source": b.Docs[i],
		})
	}
	out := map[string]any{
		"took": 1,
		"hits": map[string]any{
			"total": map[string]any{"value": len(b.Docs), "relation": "eq"},
			"hits":  hits,
		},
	}
	if scrollID != "" {
		out["_scroll_id"] = scrollID
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
