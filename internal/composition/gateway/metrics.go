package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"wa-gateway/go-backend/internal/platform/observability"
)

const (
	categoryAuth      = "auth"
	categorySession   = "session"
	categoryQueue     = "queue"
	categoryWebhook   = "webhook"
	categoryRateLimit = "rate_limit"
)

type metrics struct {
	errors *prometheus.CounterVec
	queues prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Control-plane and background errors by category.",
		}, []string{"category"}),
		queues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: observability.Namespace,
			Subsystem: "gateway",
			Name:      "queues",
			Help:      "Outbound queues currently draining.",
		}),
	}
	r := observability.NewRegistrar(reg)
	m.errors = observability.Adopt(r, m.errors)
	m.queues = observability.Adopt(r, m.queues)
	return m, r.Err()
}
