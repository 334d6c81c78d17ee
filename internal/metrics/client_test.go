package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/observability"
)

var testEndpoint = core.Endpoint{Scheme: "http", Host: "es-1", Port: 9200}

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})
	return collector
}

func TestTelemetryObserver(t *testing.T) {
	collector := setupTelemetry(t)
	obs := &TelemetryObserver{}

	obs.ObserveAttempt(testEndpoint, core.OutcomeBackpressure, 10*time.Millisecond)
	obs.ObserveBackpressure(testEndpoint, 110*time.Millisecond)
	obs.ObserveAttempt(testEndpoint, core.OutcomeSuccess, 5*time.Millisecond)
	obs.ObserveCall("success", 2, 120*time.Millisecond)

	assert.Equal(t, 2, collector.CountMetricsByName(ClientAttemptsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(ClientBackpressureTotal))
	assert.Greater(t, collector.CountMetricsByName(ClientBackpressureWait), 0)
	assert.Equal(t, 1, collector.CountMetricsByName(ClientCallsTotal))
}

func TestTelemetryObserverWithoutSystem(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	defer func() { observability.TelemetrySystem = original }()

	var obs *TelemetryObserver
	assert.NotPanics(t, func() {
		obs.ObserveAttempt(testEndpoint, core.OutcomeOtherError, time.Millisecond)
		obs.ObserveBackpressure(testEndpoint, time.Millisecond)
		obs.ObserveCall("timeout", 1, time.Millisecond)
	})
}

type recordingObserver struct {
	attempts, backpressure, calls int
}

func (r *recordingObserver) ObserveAttempt(core.Endpoint, core.Outcome, time.Duration) { r.attempts++ }
func (r *recordingObserver) ObserveBackpressure(core.Endpoint, time.Duration)         { r.backpressure++ }
func (r *recordingObserver) ObserveCall(string, int, time.Duration)                   { r.calls++ }

func TestObserversFanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	fan := Observers{a, nil, b}

	fan.ObserveAttempt(testEndpoint, core.OutcomeSuccess, time.Millisecond)
	fan.ObserveBackpressure(testEndpoint, time.Millisecond)
	fan.ObserveCall("success", 1, time.Millisecond)

	for _, r := range []*recordingObserver{a, b} {
		assert.Equal(t, 1, r.attempts)
		assert.Equal(t, 1, r.backpressure)
		assert.Equal(t, 1, r.calls)
	}
}

func TestServiceMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordSearch("search", true, 3*time.Millisecond)
	RecordSearch("count", false, time.Millisecond)
	RecordSnapshot(true)
	RecordHealthCheck("cluster", true, time.Millisecond)
	RecordClientFailure("backpressure_exhausted", 429)

	assert.Equal(t, 2, collector.CountMetricsByName(SearchRequestsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(SnapshotsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(HealthCheckTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(ClientFailuresName))
}
