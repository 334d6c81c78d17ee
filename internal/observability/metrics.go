package observability

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem receives service telemetry (HTTP, search, health, snapshots).
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves TelemetrySystem in Prometheus text format.
	PrometheusExporter *exporters.PrometheusExporter

	metricsMu   sync.Mutex
	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port (0 picks a free one) and
// installs the telemetry system in front of it. Series are prefixed with
// namespace when given, otherwise with serviceName. Calling it again replaces
// the running exporter.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	stopExporterLocked()

	if port < 0 {
		port = 0
	}
	metricsPort = port

	metricNamespace := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		metricNamespace = namespace[0]
	}

	exporter := exporters.NewPrometheusExporter(metricNamespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return err
	}

	if actual, err := resolvePort(exporter.GetAddr()); err == nil {
		metricsPort = actual
	} else if port == 0 {
		metricsPort = 9090
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		_ = exporter.Stop()
		return err
	}

	// errors_total, panics_total and the search/backpressure series register
	// on first use; see internal/metrics.
	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// StopMetrics shuts the exporter down and clears the telemetry system.
func StopMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return stopExporterLocked()
}

func stopExporterLocked() error {
	var err error
	if PrometheusExporter != nil {
		err = PrometheusExporter.Stop()
	}
	PrometheusExporter = nil
	TelemetrySystem = nil
	return err
}

// GetMetricsPort returns the port the Prometheus exporter is listening on.
func GetMetricsPort() int {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
