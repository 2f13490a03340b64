package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts guard denials.
type Metrics struct {
	Denied *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Denied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "labtrail_access_denied_total",
			Help: "Requests rejected by the role table, by operation and denial kind",
		}, []string{"operation", "kind"}),
	}
}

func (m *Metrics) IncDenied(op Operation, kind DenialKind) {
	if m != nil {
		m.Denied.WithLabelValues(string(op), kind.String()).Inc()
	}
}
