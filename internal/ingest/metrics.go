package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/gocontext-ingest/internal/status"
)

// Metrics holds Prometheus metrics for the ingestion engine. A nil *Metrics
// records nothing.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	FilesParsedTotal    *prometheus.CounterVec
	ChunksEmbeddedTotal prometheus.Counter
	RunDuration         prometheus.Histogram
	ActiveRuns          prometheus.Gauge
}

// NewMetrics creates the engine metrics and registers them on reg.
//
// Metrics:
//   - gocontext_ingest_runs_total{state} - runs by terminal state
//   - gocontext_ingest_files_parsed_total{result} - parse outcomes (supported, failed, skipped)
//   - gocontext_ingest_chunks_embedded_total - chunks written to the vector store
//   - gocontext_ingest_run_duration_seconds - run wall time
//   - gocontext_ingest_active_runs - 1 while a run holds the lock
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gocontext",
				Subsystem: "ingest",
				Name:      "runs_total",
				Help:      "Total number of ingest runs by terminal state",
			},
			[]string{"state"},
		),
		FilesParsedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gocontext",
				Subsystem: "ingest",
				Name:      "files_parsed_total",
				Help:      "Total number of files processed by the parse coordinator",
			},
			[]string{"result"},
		),
		ChunksEmbeddedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gocontext",
				Subsystem: "ingest",
				Name:      "chunks_embedded_total",
				Help:      "Total number of chunks embedded and stored",
			},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gocontext",
				Subsystem: "ingest",
				Name:      "run_duration_seconds",
				Help:      "Duration of ingest runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5min
			},
		),
		ActiveRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gocontext",
				Subsystem: "ingest",
				Name:      "active_runs",
				Help:      "Number of runs currently holding the ingest lock",
			},
		),
	}
}

// RecordFile counts one parse outcome.
func (m *Metrics) RecordFile(result string) {
	if m == nil {
		return
	}
	m.FilesParsedTotal.WithLabelValues(result).Inc()
}

// RecordChunks counts embedded chunks.
func (m *Metrics) RecordChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksEmbeddedTotal.Add(float64(n))
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a terminal state and the run's duration.
func (m *Metrics) RunFinished(state status.State, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(string(state)).Inc()
	m.RunDuration.Observe(d.Seconds())
}
