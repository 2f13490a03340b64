package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit pipeline.
type Metrics struct {
	Recorded      *prometheus.CounterVec
	WriteFailures prometheus.Counter
	Dropped       prometheus.Counter
	QueueDepth    prometheus.Gauge
	WriteLatency  prometheus.Histogram
}

// NewMetrics creates and registers the audit metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Recorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "labtrail_audit_entries_recorded_total",
			Help: "Audit entries persisted, by action and outcome",
		}, []string{"action", "outcome"}),
		WriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "labtrail_audit_write_failures_total",
			Help: "Audit entries that could not be persisted",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "labtrail_audit_entries_dropped_total",
			Help: "Audit entries dropped because the dispatch queue was full or closed",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "labtrail_audit_queue_depth",
			Help: "Audit entries waiting to be persisted",
		}),
		WriteLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "labtrail_audit_write_duration_seconds",
			Help:    "Time spent persisting one audit entry",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncRecorded(action Action, failed bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.Recorded.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) IncWriteFailures() {
	if m != nil {
		m.WriteFailures.Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) ObserveWrite(seconds float64) {
	if m != nil {
		m.WriteLatency.Observe(seconds)
	}
}
