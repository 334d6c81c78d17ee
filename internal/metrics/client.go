package metrics

import (
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
	"github.com/searchlens/searchlens/internal/observability"
)

// Client metric names emitted through gofulmen telemetry.
const (
	ClientAttemptsTotal     = "client_attempts_total"
	ClientBackpressureTotal = "client_backpressure_total"
	ClientBackpressureWait  = "client_backpressure_wait_ms"
	ClientCallsTotal        = "client_calls_total"
	ClientCallAttempts      = "client_call_attempts"
)

// TelemetryObserver forwards client events to a gofulmen telemetry system.
// A nil System falls back to observability.TelemetrySystem at emit time.
type TelemetryObserver struct {
	System *telemetry.System
}

var _ client.Observer = (*TelemetryObserver)(nil)

func (o *TelemetryObserver) system() *telemetry.System {
	if o != nil && o.System != nil {
		return o.System
	}
	return observability.TelemetrySystem
}

func (o *TelemetryObserver) ObserveAttempt(endpoint core.Endpoint, outcome core.Outcome, _ time.Duration) {
	if sys := o.system(); sys != nil {
		_ = sys.Counter(ClientAttemptsTotal, 1, map[string]string{
			"outcome": outcome.String(),
		})
	}
}

func (o *TelemetryObserver) ObserveBackpressure(endpoint core.Endpoint, sample time.Duration) {
	sys := o.system()
	if sys == nil {
		return
	}
	_ = sys.Counter(ClientBackpressureTotal, 1, map[string]string{
		"endpoint": endpoint.Address(),
	})
	_ = sys.Histogram(ClientBackpressureWait, sample, map[string]string{
		"endpoint": endpoint.Address(),
	})
}

func (o *TelemetryObserver) ObserveCall(result string, attempts int, _ time.Duration) {
	sys := o.system()
	if sys == nil {
		return
	}
	_ = sys.Counter(ClientCallsTotal, 1, map[string]string{
		"result": result,
	})
	_ = sys.Gauge(ClientCallAttempts, float64(attempts), map[string]string{
		"result": result,
	})
}

// Observers fans client events out to several observers.
type Observers []client.Observer

var _ client.Observer = Observers(nil)

func (m Observers) ObserveAttempt(endpoint core.Endpoint, outcome core.Outcome, d time.Duration) {
	for _, o := range m {
		if o != nil {
			o.ObserveAttempt(endpoint, outcome, d)
		}
	}
}

func (m Observers) ObserveBackpressure(endpoint core.Endpoint, sample time.Duration) {
	for _, o := range m {
		if o != nil {
			o.ObserveBackpressure(endpoint, sample)
		}
	}
}

func (m Observers) ObserveCall(result string, attempts int, elapsed time.Duration) {
	for _, o := range m {
		if o != nil {
			o.ObserveCall(result, attempts, elapsed)
		}
	}
}
