package integration

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
	"github.com/searchlens/searchlens/internal/core/search"
	"github.com/searchlens/searchlens/internal/core/search/searchtest"
	"github.com/searchlens/searchlens/internal/metrics"
	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/server"
	"github.com/searchlens/searchlens/internal/server/handlers"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { _ = observability.StopMetrics() })
}

// isPermissionError normalizes OS-specific permission errors so sandboxes
// that block loopback sockets skip instead of failing.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func initMetricsOrSkip(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}
	cleanupMetrics(t)
}

// listen binds IPv4 loopback explicitly and skips when sockets are refused.
func listen(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}
	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: h}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

type statsFunc func() core.StatsSnapshot

func (f statsFunc) BackpressureStats() core.StatsSnapshot { return f() }

// newGateway starts a throttling fake cluster and a gateway in front of it.
func newGateway(t *testing.T, every int64) (*httptest.Server, *searchtest.ThrottlingProxy) {
	t.Helper()
	proxy := &searchtest.ThrottlingProxy{Next: searchtest.NewBackend("logs", 20), Every: every}
	cluster := listen(t, proxy)

	ep, err := core.ParseEndpoint(cluster.URL, "http")
	require.NoError(t, err)

	policy := client.DefaultPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond

	stats := client.NewStats(time.Minute, client.DefaultStatsBuckets)
	reg, err := metrics.NewClientRegistry("test", statsFunc(stats.Snapshot))
	require.NoError(t, err)

	c, err := client.New([]core.Endpoint{ep}, policy,
		client.WithTransport(client.NewHTTPTransport(5*time.Second, "searchlens-integration")),
		client.WithStats(stats),
		client.WithObserver(metrics.Observers{&metrics.TelemetryObserver{}, reg.Observer}))
	require.NoError(t, err)

	svc := search.New(c, "http", nil)
	health := handlers.NewHealthManager("test")
	health.RegisterChecker("cluster", handlers.ClusterHealthChecker{Health: svc.ClusterHealth})

	srv := server.New("127.0.0.1", 0, server.Options{
		API:           &handlers.API{Search: svc, Stats: c},
		Health:        health,
		ClientMetrics: reg.Handler(),
	})
	return listen(t, srv.Handler()), proxy
}

func TestGatewayMetricsUnderLoad(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")
	initMetricsOrSkip(t)

	ts, proxy := newGateway(t, 3)
	httpClient := ts.Client()

	const numRequests = 40
	const numWorkers = 8

	requests := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		requests <- i
	}
	close(requests)

	start := time.Now()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for n := range requests {
				var resp *http.Response
				var err error
				switch n % 4 {
				case 0:
					resp, err = httpClient.Get(ts.URL + "/health")
				case 1:
					resp, err = httpClient.Post(ts.URL+"/v1/indices/logs/count", "application/json", nil)
				default:
					resp, err = httpClient.Post(ts.URL+"/v1/indices/logs/search", "application/json", strings.NewReader(`{"size":2}`))
				}
				if err != nil {
					continue
				}
				_ = resp.Body.Close()
				mu.Lock()
				statuses[resp.StatusCode]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	assert.Equal(t, numRequests, statuses[http.StatusOK], "backpressure is absorbed by the client: %v", statuses)
	assert.Positive(t, proxy.Throttled())

	resp, err := httpClient.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_http_requests_total")
	assert.Contains(t, string(body), "test_http_request_duration_ms")

	resp, err = httpClient.Get(ts.URL + "/metrics/client")
	require.NoError(t, err)
	body, readErr = io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Contains(t, string(body), "test_backpressure_events_total")

	assert.Less(t, elapsed, 10*time.Second)
	t.Logf("gateway load: %d requests in %v, %d throttled upstream", numRequests, elapsed, proxy.Throttled())
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")
	initMetricsOrSkip(t)

	ts, _ := newGateway(t, 0)
	httpClient := ts.Client()

	resp, err := httpClient.Get(ts.URL + "/version")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	resp, err = httpClient.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, "text/plain; version=0.0.4"),
		"Expected Prometheus content type, got: %s", contentType)

	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)

	metricLines := 0
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		if !strings.HasPrefix(line, "#") && len(strings.Fields(line)) >= 2 {
			metricLines++
		}
	}
	assert.Positive(t, metricLines, "Should have actual metric values")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")

	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})
	t.Setenv("SEARCHLENS_METRICS_ENABLED", "false")

	ts, _ := newGateway(t, 0)
	httpClient := ts.Client()

	resp, err := httpClient.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Client metrics come from a private registry and stay available.
	resp, err = httpClient.Get(ts.URL + "/metrics/client")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
