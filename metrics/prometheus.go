package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the monitoring runtime and the backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Event log
	EventsRecordedTotal *prometheus.CounterVec
	EventsEvictedTotal  prometheus.Counter
	EventLogSize        prometheus.Gauge
	ValidationVerdicts  *prometheus.CounterVec
	UncaughtErrorsTotal prometheus.Counter
	TrackedComponents   prometheus.Gauge

	// Auto-correction
	CorrectionsTotal        *prometheus.CounterVec
	CorrectionAttemptsTotal *prometheus.CounterVec
	CorrectionDuration      *prometheus.HistogramVec

	// Log sink client
	SinkFlushesTotal  *prometheus.CounterVec
	SinkDroppedTotal  prometheus.Counter
	SinkPendingEvents prometheus.Gauge

	// Backend
	IngestedLogsTotal   prometheus.Counter
	IngestRejectedTotal *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		EventsRecordedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "events",
			Name:      "recorded_total",
			Help:      "Total number of events recorded, by level",
		}, []string{"level"}),
		EventsEvictedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "events",
			Name:      "evicted_total",
			Help:      "Total number of events evicted from the in-memory buffer",
		}),
		EventLogSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosmicwatch",
			Subsystem: "events",
			Name:      "buffer_size",
			Help:      "Current number of events held in memory",
		}),
		ValidationVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "events",
			Name:      "validation_verdicts_total",
			Help:      "Behavior validation verdicts, by status",
		}, []string{"status"}),
		UncaughtErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "events",
			Name:      "uncaught_errors_total",
			Help:      "Errors reported through the uncaught-error hook",
		}),
		TrackedComponents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosmicwatch",
			Subsystem: "components",
			Name:      "mounted",
			Help:      "Number of components currently tracked as mounted",
		}),

		CorrectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "correction",
			Name:      "orchestrations_total",
			Help:      "Finished orchestrations, by error category and outcome",
		}, []string{"category", "outcome"}),
		CorrectionAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "correction",
			Name:      "attempts_total",
			Help:      "Correction attempts, by error category and success",
		}, []string{"category", "success"}),
		CorrectionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cosmicwatch",
			Subsystem: "correction",
			Name:      "duration_seconds",
			Help:      "Wall time of an orchestration including backoff",
			Buckets:   []float64{.001, .01, .1, .5, 1, 2, 5, 10, 30},
		}, []string{"category"}),

		SinkFlushesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "sink",
			Name:      "flushes_total",
			Help:      "Log sink flushes, by result",
		}, []string{"result"}),
		SinkDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "sink",
			Name:      "dropped_total",
			Help:      "Events dropped because the sink queue was full",
		}),
		SinkPendingEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosmicwatch",
			Subsystem: "sink",
			Name:      "pending_events",
			Help:      "Events waiting for the next flush window",
		}),

		IngestedLogsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "ingest",
			Name:      "logs_total",
			Help:      "Logs accepted by POST /api/monitoring/logs",
		}),
		IngestRejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Ingest requests rejected, by reason",
		}, []string{"reason"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmicwatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status",
		}, []string{"route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cosmicwatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// EventRecorded counts one recorded event and its verdict.
func (m *Metrics) EventRecorded(level, verdict string) {
	if m == nil {
		return
	}
	m.EventsRecordedTotal.WithLabelValues(level).Inc()
	if verdict != "" {
		m.ValidationVerdicts.WithLabelValues(verdict).Inc()
	}
}

// EventsEvicted counts evicted events and updates the buffer gauge.
func (m *Metrics) EventsEvicted(n int, size int) {
	if m == nil {
		return
	}
	if n > 0 {
		m.EventsEvictedTotal.Add(float64(n))
	}
	m.EventLogSize.Set(float64(size))
}

// UncaughtError counts an error received through the uncaught-error hook.
func (m *Metrics) UncaughtError() {
	if m == nil {
		return
	}
	m.UncaughtErrorsTotal.Inc()
}

// ComponentsMounted sets the mounted component gauge.
func (m *Metrics) ComponentsMounted(n int) {
	if m == nil {
		return
	}
	m.TrackedComponents.Set(float64(n))
}

// CorrectionAttempt counts one strategy attempt.
func (m *Metrics) CorrectionAttempt(category string, success bool) {
	if m == nil {
		return
	}
	s := "false"
	if success {
		s = "true"
	}
	m.CorrectionAttemptsTotal.WithLabelValues(category, s).Inc()
}

// CorrectionFinished records the outcome and duration of one orchestration.
func (m *Metrics) CorrectionFinished(category, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CorrectionsTotal.WithLabelValues(category, outcome).Inc()
	m.CorrectionDuration.WithLabelValues(category).Observe(seconds)
}

// SinkFlush records a flush result and the remaining backlog.
func (m *Metrics) SinkFlush(ok bool, pending int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.SinkFlushesTotal.WithLabelValues(result).Inc()
	m.SinkPendingEvents.Set(float64(pending))
}

// SinkDropped counts an event dropped on a full sink queue.
func (m *Metrics) SinkDropped() {
	if m == nil {
		return
	}
	m.SinkDroppedTotal.Inc()
}

// LogsIngested counts accepted sink logs.
func (m *Metrics) LogsIngested(n int) {
	if m == nil {
		return
	}
	m.IngestedLogsTotal.Add(float64(n))
}

// IngestRejected counts a rejected ingest request.
func (m *Metrics) IngestRejected(reason string) {
	if m == nil {
		return
	}
	m.IngestRejectedTotal.WithLabelValues(reason).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}
