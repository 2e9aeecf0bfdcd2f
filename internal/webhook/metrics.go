package webhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wa-gateway/go-backend/internal/platform/observability"
)

type metrics struct {
	endpoints  prometheus.Gauge
	deliveries *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	latency    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		endpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: observability.Namespace,
			Subsystem: "webhook",
			Name:      "endpoints",
			Help:      "Registered webhook endpoints.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Event deliveries by final outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "webhook",
			Name:      "attempts_total",
			Help:      "HTTP delivery attempts by result.",
		}, []string{"result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: observability.Namespace,
			Subsystem: "webhook",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of single delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	r := observability.NewRegistrar(reg)
	m.endpoints = observability.Adopt(r, m.endpoints)
	m.deliveries = observability.Adopt(r, m.deliveries)
	m.attempts = observability.Adopt(r, m.attempts)
	m.latency = observability.Adopt(r, m.latency)
	return m, r.Err()
}

func (m *metrics) observeAttempt(err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.attempts.WithLabelValues(result).Inc()
	m.latency.Observe(took.Seconds())
}
