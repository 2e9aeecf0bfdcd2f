package ratequeue

import (
	"github.com/prometheus/client_golang/prometheus"

	"wa-gateway/go-backend/internal/platform/observability"
)

// Metrics is shared by every queue of a process; series are labelled by
// queue name.
type Metrics struct {
	depth      *prometheus.GaugeVec
	dispatched *prometheus.CounterVec
	waits      *prometheus.CounterVec
	rejected   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: observability.Namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Tasks waiting for admission.",
		}, []string{"queue"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "queue",
			Name:      "dispatched_total",
			Help:      "Operations invoked by the drain loop by outcome.",
		}, []string{"queue", "outcome"}),
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "queue",
			Name:      "waits_total",
			Help:      "Drain loop suspensions by reason.",
		}, []string{"queue", "reason"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "queue",
			Name:      "rejected_total",
			Help:      "Tasks rejected without being dispatched by reason.",
		}, []string{"queue", "reason"}),
	}
	r := observability.NewRegistrar(reg)
	m.depth = observability.Adopt(r, m.depth)
	m.dispatched = observability.Adopt(r, m.dispatched)
	m.waits = observability.Adopt(r, m.waits)
	m.rejected = observability.Adopt(r, m.rejected)
	return m, r.Err()
}

// Forget drops the series of a queue that no longer exists.
func (m *Metrics) Forget(queue string) {
	if m == nil {
		return
	}
	m.depth.DeleteLabelValues(queue)
	m.dispatched.DeletePartialMatch(prometheus.Labels{"queue": queue})
	m.waits.DeletePartialMatch(prometheus.Labels{"queue": queue})
	m.rejected.DeletePartialMatch(prometheus.Labels{"queue": queue})
}
