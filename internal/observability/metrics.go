package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the tracker, grouped by stage.
// NOTE: No per-file labels are used to avoid high cardinality issues.
type Metrics struct {
	Scan  ScanMetrics
	Store StoreMetrics
}

// ScanMetrics tracks log scanning and extraction.
type ScanMetrics struct {
	// ScansTotal tracks scan cycles by trigger and outcome
	ScansTotal *prometheus.CounterVec // labels: trigger (change/flush), outcome (ok/error)

	// BytesRead tracks bytes consumed from log files
	BytesRead prometheus.Counter

	// EntriesExtracted tracks request records parsed out of log content
	EntriesExtracted prometheus.Counter

	// ParseErrors tracks lines that looked like request records but failed to parse
	ParseErrors prometheus.Counter

	// Duration tracks time spent in a single scan cycle
	Duration prometheus.Histogram
}

// StoreMetrics tracks the event store.
type StoreMetrics struct {
	// EventsStored tracks events accepted into the store
	EventsStored prometheus.Counter

	// EventsDeduplicated tracks events rejected as duplicates
	EventsDeduplicated prometheus.Counter

	// Size tracks the current number of stored events
	Size prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics with a custom registry.
// This is useful for testing to avoid conflicts with the default registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Scan: ScanMetrics{
			ScansTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "copilot_usage_scans_total",
					Help: "Total number of scan cycles",
				},
				[]string{"trigger", "outcome"}, // trigger: change, flush; outcome: ok, error
			),
			BytesRead: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "copilot_usage_bytes_read_total",
					Help: "Total number of log bytes consumed",
				},
			),
			EntriesExtracted: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "copilot_usage_entries_extracted_total",
					Help: "Total number of request records extracted from log content",
				},
			),
			ParseErrors: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "copilot_usage_parse_errors_total",
					Help: "Total number of candidate records that failed to parse",
				},
			),
			Duration: factory.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "copilot_usage_scan_duration_seconds",
					Help:    "Time spent in a single scan cycle",
					Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2}, // 1ms to 2s
				},
			),
		},

		Store: StoreMetrics{
			EventsStored: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "copilot_usage_events_stored_total",
					Help: "Total number of usage events accepted into the store",
				},
			),
			EventsDeduplicated: factory.NewCounter(
				prometheus.CounterOpts{
					Name: "copilot_usage_events_deduplicated_total",
					Help: "Total number of usage events rejected as duplicates",
				},
			),
			Size: factory.NewGauge(
				prometheus.GaugeOpts{
					Name: "copilot_usage_store_size",
					Help: "Current number of stored usage events",
				},
			),
		},
	}
}
