package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the extractor.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RecordsEmitted   *prometheus.CounterVec
	BackoffsTotal    prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	CheckpointsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescue_requests_total",
			Help: "Total HTTP request attempts issued to the reporting API.",
		},
		[]string{"status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rescue_request_duration_seconds",
			Help:    "Reporting API request latency per attempt.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescue_records_emitted_total",
			Help: "Total records emitted per stream.",
		},
		[]string{"stream"},
	)
	backoffs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rescue_backoffs_total",
			Help: "Total rate-limit backoff sleeps.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescue_errors_total",
			Help: "Total extraction errors by type.",
		},
		[]string{"error_type"},
	)
	checkpoints := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescue_checkpoints_total",
			Help: "Total checkpoint persists per stream.",
		},
		[]string{"stream"},
	)

	registry.MustRegister(requests, requestDuration, records, backoffs, errorsTotal, checkpoints)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RecordsEmitted:   records,
		BackoffsTotal:    backoffs,
		ErrorsTotal:      errorsTotal,
		CheckpointsTotal: checkpoints,
	}
}

// ObserveRequest records one request attempt tagged success or failure.
func (m *Metrics) ObserveRequest(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.RequestDuration.WithLabelValues(status).Observe(d.Seconds())
}

// AddRecords increments the emitted-records counter for a stream.
func (m *Metrics) AddRecords(stream string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsEmitted.WithLabelValues(stream).Add(float64(n))
}

// IncBackoff increments the backoff counter.
func (m *Metrics) IncBackoff() {
	if m == nil {
		return
	}
	m.BackoffsTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCheckpoint increments the checkpoint counter for a stream.
func (m *Metrics) IncCheckpoint(stream string) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.WithLabelValues(stream).Inc()
}
