package metrics

import (
	"time"

	"github.com/searchlens/searchlens/internal/observability"
)

// Service-level metric names.
const (
	SearchRequestsTotal   = "search_requests_total"
	SearchRequestDuration = "search_request_duration_ms"

	SnapshotsTotal = "backpressure_snapshots_total"

	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"

	ServerStartTime = "server_start_time_seconds"
	ServerUptime    = "server_uptime_seconds"
)

// RecordSearch records one search API operation proxied to the cluster.
func RecordSearch(operation string, success bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(SearchRequestsTotal, 1, map[string]string{
		"operation": operation,
		"status":    status,
	})
	_ = observability.TelemetrySystem.Histogram(SearchRequestDuration, duration, map[string]string{
		"operation": operation,
	})
}

// RecordSnapshot counts persisted backpressure snapshots.
func RecordSnapshot(success bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(SnapshotsTotal, 1, map[string]string{
		"status": status,
	})
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	_ = observability.TelemetrySystem.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": status,
	})
	_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{
		"check": checkName,
	})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerUptime, float64(seconds), nil)
	}
}
