package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
)

// StatsSource is anything that can report a backpressure snapshot.
type StatsSource interface {
	BackpressureStats() core.StatsSnapshot
}

// StatsCollector exposes a client's backpressure statistics to Prometheus.
// Values are read from the snapshot at scrape time.
type StatsCollector struct {
	source StatsSource

	count       *prometheus.Desc
	sumSeconds  *prometheus.Desc
	minSeconds  *prometheus.Desc
	maxSeconds  *prometheus.Desc
	avgSeconds  *prometheus.Desc
	windowCount *prometheus.Desc
	windowMax   *prometheus.Desc
	rate        *prometheus.Desc
}

// NewStatsCollector describes the backpressure series under namespace.
func NewStatsCollector(namespace string, source StatsSource) *StatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "backpressure", name), help, nil, nil)
	}
	return &StatsCollector{
		source:      source,
		count:       desc("events_total", "Backpressure responses observed since start."),
		sumSeconds:  desc("wait_seconds_total", "Time lost to backpressure since start."),
		minSeconds:  desc("wait_min_seconds", "Smallest backpressure sample since start."),
		maxSeconds:  desc("wait_max_seconds", "Largest backpressure sample since start."),
		avgSeconds:  desc("wait_avg_seconds", "Mean backpressure sample since start."),
		windowCount: desc("window_events", "Backpressure responses within the rolling window."),
		windowMax:   desc("window_max_seconds", "Largest backpressure sample within the rolling window."),
		rate:        desc("rate_per_second", "Backpressure responses per second over the rolling window."),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
	ch <- c.sumSeconds
	ch <- c.minSeconds
	ch <- c.maxSeconds
	ch <- c.avgSeconds
	ch <- c.windowCount
	ch <- c.windowMax
	ch <- c.rate
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.BackpressureStats()
	ch <- prometheus.MustNewConstMetric(c.count, prometheus.CounterValue, float64(snap.AllTime.Count))
	ch <- prometheus.MustNewConstMetric(c.sumSeconds, prometheus.CounterValue, snap.AllTime.Total.Seconds())
	ch <- prometheus.MustNewConstMetric(c.minSeconds, prometheus.GaugeValue, snap.AllTime.Min.Seconds())
	ch <- prometheus.MustNewConstMetric(c.maxSeconds, prometheus.GaugeValue, snap.AllTime.Max.Seconds())
	ch <- prometheus.MustNewConstMetric(c.avgSeconds, prometheus.GaugeValue, snap.AllTime.Avg.Seconds())
	ch <- prometheus.MustNewConstMetric(c.windowCount, prometheus.GaugeValue, float64(snap.Window.Count))
	ch <- prometheus.MustNewConstMetric(c.windowMax, prometheus.GaugeValue, snap.Window.Max.Seconds())
	ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, snap.Rate)
}

// PromObserver records per-attempt client events in Prometheus vectors.
type PromObserver struct {
	attempts     *prometheus.CounterVec
	backpressure *prometheus.CounterVec
	wait         *prometheus.HistogramVec
	calls        *prometheus.CounterVec
	callAttempts prometheus.Histogram
}

var _ client.Observer = (*PromObserver)(nil)

// NewPromObserver creates the client vectors under namespace.
func NewPromObserver(namespace string) *PromObserver {
	return &PromObserver{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "attempts_total",
			Help:      "Attempts sent to the cluster by outcome.",
		}, []string{"outcome"}),
		backpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "backpressure_total",
			Help:      "Backpressure responses by endpoint.",
		}, []string{"endpoint"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "backpressure_wait_seconds",
			Help:      "Time each backpressure response cost the caller.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"endpoint"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Completed calls by result.",
		}, []string{"result"}),
		callAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "call_attempts",
			Help:      "Attempts needed per call.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

// Collectors lists the observer's collectors for registration.
func (o *PromObserver) Collectors() []prometheus.Collector {
	return []prometheus.Collector{o.attempts, o.backpressure, o.wait, o.calls, o.callAttempts}
}

func (o *PromObserver) ObserveAttempt(_ core.Endpoint, outcome core.Outcome, _ time.Duration) {
	o.attempts.WithLabelValues(outcome.String()).Inc()
}

func (o *PromObserver) ObserveBackpressure(endpoint core.Endpoint, sample time.Duration) {
	o.backpressure.WithLabelValues(endpoint.Address()).Inc()
	o.wait.WithLabelValues(endpoint.Address()).Observe(sample.Seconds())
}

func (o *PromObserver) ObserveCall(result string, attempts int, _ time.Duration) {
	o.calls.WithLabelValues(result).Inc()
	o.callAttempts.Observe(float64(attempts))
}

// ClientRegistry bundles a dedicated registry for client metrics.
type ClientRegistry struct {
	Registry *prometheus.Registry
	Observer *PromObserver
}

// NewClientRegistry registers the stats collector, the attempt observer and
// the Go runtime collectors in a fresh registry.
func NewClientRegistry(namespace string, source StatsSource) (*ClientRegistry, error) {
	reg := prometheus.NewRegistry()
	observer := NewPromObserver(namespace)

	toRegister := append([]prometheus.Collector{
		NewStatsCollector(namespace, source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, observer.Collectors()...)
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return &ClientRegistry{Registry: reg, Observer: observer}, nil
}

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (r *ClientRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
