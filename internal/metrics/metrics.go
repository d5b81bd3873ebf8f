package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all candleledger metrics. A nil *Metrics is safe to record
// into; every helper is a no-op.
type Metrics struct {
	// Counters
	SweepsTotal    *prometheus.CounterVec
	VersionsPruned prometheus.Counter
	KeysCompacted  prometheus.Counter

	// Gauges
	LastSweep prometheus.Gauge

	// Histograms
	SweepDuration prometheus.Histogram

	// Internal
	registry *prometheus.Registry
	enabled  bool
	addr     string
	path     string
}

// Config holds metrics server configuration.
type Config struct {
	Enabled bool
	Addr    string // e.g., ":9090"
	Path    string // e.g., "/metrics"
}

// New creates a new metrics instance.
func New(cfg Config) *Metrics {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	m := &Metrics{
		enabled:  cfg.Enabled,
		registry: prometheus.NewRegistry(),
		addr:     cfg.Addr,
		path:     cfg.Path,
	}

	if !cfg.Enabled {
		return m
	}

	// Counters
	m.SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candleledger",
			Name:      "sweeps_total",
			Help:      "Total compaction sweeps by outcome",
		},
		[]string{"status"}, // "success", "error"
	)

	m.VersionsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "candleledger",
			Name:      "versions_pruned_total",
			Help:      "Total candle versions removed by compaction",
		},
	)

	m.KeysCompacted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "candleledger",
			Name:      "keys_compacted_total",
			Help:      "Total keys that had at least one version pruned",
		},
	)

	// Gauges
	m.LastSweep = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "candleledger",
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last successful sweep",
		},
	)

	// Histograms
	m.SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "candleledger",
			Name:      "sweep_duration_seconds",
			Help:      "Time to complete one compaction sweep",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
	)

	// Register all metrics
	m.registry.MustRegister(
		m.SweepsTotal,
		m.VersionsPruned,
		m.KeysCompacted,
		m.LastSweep,
		m.SweepDuration,
	)

	// Also register Go runtime metrics
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Addr returns the configured listen address.
func (m *Metrics) Addr() string {
	return m.addr
}

// Path returns the configured metrics path.
func (m *Metrics) Path() string {
	return m.path
}

// Helper methods for common operations

// RecordSweep counts one sweep cycle and its duration.
func (m *Metrics) RecordSweep(success bool, duration time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.SweepsTotal.WithLabelValues(status).Inc()
	m.SweepDuration.Observe(duration.Seconds())
	if success {
		m.LastSweep.SetToCurrentTime()
	}
}

// AddVersionsPruned adds to the pruned-version counter.
func (m *Metrics) AddVersionsPruned(n int64) {
	if m == nil || !m.enabled || n == 0 {
		return
	}
	m.VersionsPruned.Add(float64(n))
}

// AddKeysCompacted adds to the compacted-key counter.
func (m *Metrics) AddKeysCompacted(n int64) {
	if m == nil || !m.enabled || n == 0 {
		return
	}
	m.KeysCompacted.Add(float64(n))
}
