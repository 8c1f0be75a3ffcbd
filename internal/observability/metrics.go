package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for exporter self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Gather metrics
	GatherDuration prometheus.Histogram
	GatherTotal    *prometheus.CounterVec
	ReadFailures   *prometheus.CounterVec
	DevicesSkipped prometheus.Counter
	EvictedSeries  prometheus.Counter

	// Listener metrics
	ScrapesTotal  *prometheus.CounterVec
	ListenerState *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		GatherDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nvml_exporter_gather_duration_seconds",
			Help:    "Duration of NVML gather passes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		GatherTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nvml_exporter_gather_total",
			Help: "Total number of gather passes by outcome.",
		}, []string{"status"}),
		ReadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nvml_exporter_read_failures_total",
			Help: "Total number of failed device reads by metric group.",
		}, []string{"group"}),
		DevicesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nvml_exporter_devices_skipped_total",
			Help: "Total number of devices skipped because their handle or UUID could not be resolved.",
		}),
		EvictedSeries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nvml_exporter_evicted_series_total",
			Help: "Total number of label tuples removed for devices no longer enumerated.",
		}),

		ScrapesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nvml_exporter_scrapes_total",
			Help: "Total number of scrape requests served per listener.",
		}, []string{"listener"}),
		ListenerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nvml_exporter_listener_state",
			Help: "Current listener state (1 = active, 0 = inactive).",
		}, []string{"listener", "state"}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.GatherDuration,
		m.GatherTotal,
		m.ReadFailures,
		m.DevicesSkipped,
		m.EvictedSeries,
		m.ScrapesTotal,
		m.ListenerState,
	)

	return m
}
