// Package search implements the cluster operations a connector needs on top
// of the backpressure-aware client.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
)

// DefaultScroll keeps a scroll cursor alive between pages.
const DefaultScroll = time.Minute

// Cluster is the subset of *client.Client the service uses.
type Cluster interface {
	Execute(ctx context.Context, req core.Request, opts ...client.CallOption) (*core.Response, error)
	SetEndpoints(endpoints []core.Endpoint) error
}

// Service issues search API calls.
type Service struct {
	Cluster Cluster
	Scheme  string
	Logger  *logging.Logger
}

// New returns a service bound to cluster.
func New(cluster Cluster, scheme string, logger *logging.Logger) *Service {
	return &Service{Cluster: cluster, Scheme: scheme, Logger: logger}
}

// Hit is one matched document.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score,omitempty"`
	Source json.RawMessage `json:"_source,omitempty"`
}

// SearchResult is one page of hits.
type SearchResult struct {
	ScrollID string `json:"scroll_id,omitempty"`
	Total    int64  `json:"total"`
	Took     int64  `json:"took_ms"`
	Hits     []Hit  `json:"hits"`
}

// hitsTotal accepts both the numeric and the {"value": n} form.
type hitsTotal int64

func (h *hitsTotal) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*h = hitsTotal(n)
		return nil
	}
	var obj struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*h = hitsTotal(obj.Value)
	return nil
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Took     int64  `json:"took"`
	Hits     struct {
		Total hitsTotal `json:"total"`
		Hits  []Hit     `json:"hits"`
	} `json:"hits"`
}

func (r searchResponse) result() *SearchResult {
	hits := r.Hits.Hits
	if hits == nil {
		hits = []Hit{}
	}
	return &SearchResult{ScrollID: r.ScrollID, Total: int64(r.Hits.Total), Took: r.Took, Hits: hits}
}

// Search runs query against index. A positive scroll opens a scroll cursor.
func (s *Service) Search(ctx context.Context, index string, query json.RawMessage, size int, scroll time.Duration) (*SearchResult, error) {
	index, err := cleanIndex(index)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"query": queryOrMatchAll(query)}
	if size >= 0 {
		body["size"] = size
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	req := core.Request{Method: http.MethodPost, Path: "/" + index + "/_search", Body: payload}
	if scroll > 0 {
		req.Query = url.Values{"scroll": []string{formatKeepAlive(scroll)}}
	}

	var out searchResponse
	if err := s.do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	return out.result(), nil
}

// ScrollNext fetches the next page of an open scroll cursor.
func (s *Service) ScrollNext(ctx context.Context, scrollID string, scroll time.Duration) (*SearchResult, error) {
	if strings.TrimSpace(scrollID) == "" {
		return nil, errors.New("scroll id is required")
	}
	if scroll <= 0 {
		scroll = DefaultScroll
	}
	payload, err := json.Marshal(map[string]string{
		"scroll":    formatKeepAlive(scroll),
		"scroll_id": scrollID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode scroll body: %w", err)
	}

	var out searchResponse
	req := core.Request{Method: http.MethodPost, Path: "/_search/scroll", Body: payload}
	if err := s.do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}
	return out.result(), nil
}

// ClearScroll releases a scroll cursor. A cursor the cluster no longer knows
// is not an error.
func (s *Service) ClearScroll(ctx context.Context, scrollID string) error {
	if strings.TrimSpace(scrollID) == "" {
		return nil
	}
	payload, err := json.Marshal(map[string][]string{"scroll_id": {scrollID}})
	if err != nil {
		return fmt.Errorf("encode clear scroll body: %w", err)
	}
	req := core.Request{Method: http.MethodDelete, Path: "/_search/scroll", Body: payload}
	if err := s.do(ctx, req, nil); err != nil {
		var ce *client.Error
		if errors.As(err, &ce) && ce.LastStatus == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("clear scroll: %w", err)
	}
	return nil
}

// Count returns the number of documents in index matching query.
func (s *Service) Count(ctx context.Context, index string, query json.RawMessage) (int64, error) {
	index, err := cleanIndex(index)
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(map[string]any{"query": queryOrMatchAll(query)})
	if err != nil {
		return 0, fmt.Errorf("encode count body: %w", err)
	}

	var out struct {
		Count int64 `json:"count"`
	}
	req := core.Request{Method: http.MethodPost, Path: "/" + index + "/_count", Body: payload}
	if err := s.do(ctx, req, &out); err != nil {
		return 0, fmt.Errorf("count %s: %w", index, err)
	}
	return out.Count, nil
}

// Node is one cluster member with an HTTP publish address.
type Node struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Address  string        `json:"address"`
	Endpoint core.Endpoint `json:"endpoint"`
}

// Nodes lists cluster members that expose HTTP.
func (s *Service) Nodes(ctx context.Context) ([]Node, error) {
	var out struct {
		Nodes map[string]struct {
			Name string `json:"name"`
			HTTP *struct {
				PublishAddress string `json:"publish_address"`
			} `json:"http"`
		} `json:"nodes"`
	}
	req := core.Request{Method: http.MethodGet, Path: "/_nodes/http"}
	if err := s.do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("nodes: %w", err)
	}

	nodes := make([]Node, 0, len(out.Nodes))
	for id, info := range out.Nodes {
		if info.HTTP == nil || info.HTTP.PublishAddress == "" {
			continue
		}
		address := publishAddress(info.HTTP.PublishAddress)
		ep, err := core.ParseEndpoint(address, s.Scheme)
		if err != nil {
			s.warn("skipping node with unusable address", zap.String("node", id), zap.String("address", address), zap.Error(err))
			continue
		}
		nodes = append(nodes, Node{ID: id, Name: info.Name, Address: address, Endpoint: ep})
	}
	sortNodes(nodes)
	return nodes, nil
}

// RefreshNodes replaces the client pool with the discovered nodes. The pool
// is left alone when discovery finds nothing.
func (s *Service) RefreshNodes(ctx context.Context) ([]core.Endpoint, error) {
	nodes, err := s.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errors.New("node discovery returned no http nodes")
	}
	endpoints := make([]core.Endpoint, 0, len(nodes))
	for _, n := range nodes {
		endpoints = append(endpoints, n.Endpoint)
	}
	if err := s.Cluster.SetEndpoints(endpoints); err != nil {
		return nil, err
	}
	s.debug("endpoint pool refreshed", zap.Int("endpoints", len(endpoints)))
	return endpoints, nil
}

// ClusterHealth returns green, yellow or red.
func (s *Service) ClusterHealth(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	req := core.Request{Method: http.MethodGet, Path: "/_cluster/health"}
	if err := s.do(ctx, req, &out); err != nil {
		return "", fmt.Errorf("cluster health: %w", err)
	}
	return out.Status, nil
}

// ClusterInfo is the banner served at the cluster root.
type ClusterInfo struct {
	Name         string `json:"name"`
	ClusterName  string `json:"cluster_name"`
	Version      string `json:"version"`
	Distribution string `json:"distribution,omitempty"`
}

// Info reads the root banner of whichever node answers.
func (s *Service) Info(ctx context.Context) (*ClusterInfo, error) {
	var out struct {
		Name        string `json:"name"`
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number       string `json:"number"`
			Distribution string `json:"distribution"`
		} `json:"version"`
	}
	req := core.Request{Method: http.MethodGet, Path: "/"}
	if err := s.do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("cluster info: %w", err)
	}
	return &ClusterInfo{
		Name:         out.Name,
		ClusterName:  out.ClusterName,
		Version:      out.Version.Number,
		Distribution: out.Version.Distribution,
	}, nil
}

func (s *Service) do(ctx context.Context, req core.Request, out any) error {
	if s == nil || s.Cluster == nil {
		return errors.New("search service has no cluster client")
	}
	resp, err := s.Cluster.Execute(ctx, req)
	if err != nil {
		return err
	}
	if resp.Attempts > 1 {
		s.debug("request needed retries",
			zap.String("path", req.Path),
			zap.Int("attempts", resp.Attempts),
			zap.Duration("elapsed", resp.Elapsed))
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", resp.Endpoint.Address(), err)
	}
	return nil
}

func (s *Service) debug(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Debug(msg, fields...)
	}
}

func (s *Service) warn(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}

func cleanIndex(index string) (string, error) {
	index = strings.Trim(strings.TrimSpace(index), "/")
	if index == "" {
		return "", errors.New("index is required")
	}
	if strings.ContainsAny(index, " /?#") {
		return "", fmt.Errorf("invalid index name %q", index)
	}
	return index, nil
}

func queryOrMatchAll(query json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(query))) == 0 {
		return json.RawMessage(`{"match_all":{}}`)
	}
	return query
}

// formatKeepAlive renders a duration in the cluster's time-unit syntax.
func formatKeepAlive(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// publishAddress strips the "hostname/" prefix some clusters report.
func publishAddress(raw string) string {
	if idx := strings.LastIndex(raw, "/"); idx >= 0 {
		return raw[idx+1:]
	}
	return raw
}
