package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"wa-gateway/go-backend/internal/platform/observability"
)

type metrics struct {
	sessions      prometheus.Gauge
	transitions   *prometheus.CounterVec
	reconnects    prometheus.Counter
	exhausted     prometheus.Counter
	saveFailures  prometheus.Counter
	handlerPanics prometheus.Counter
	droppedEvents prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: observability.Namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently registered with the orchestrator.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session status transitions by target status.",
		}, []string{"to"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a non-logout close.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "session",
			Name:      "reconnects_exhausted_total",
			Help:      "Sessions that ran out of reconnect attempts.",
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "session",
			Name:      "credential_save_failures_total",
			Help:      "Credential updates the auth store failed to persist.",
		}),
		handlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "session",
			Name:      "event_handler_panics_total",
			Help:      "Transport events whose handling panicked and was recovered.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "session",
			Name:      "stale_events_total",
			Help:      "Transport events dropped because they belonged to a superseded connection.",
		}),
	}
	r := observability.NewRegistrar(reg)
	m.sessions = observability.Adopt(r, m.sessions)
	m.transitions = observability.Adopt(r, m.transitions)
	m.reconnects = observability.Adopt(r, m.reconnects)
	m.exhausted = observability.Adopt(r, m.exhausted)
	m.saveFailures = observability.Adopt(r, m.saveFailures)
	m.handlerPanics = observability.Adopt(r, m.handlerPanics)
	m.droppedEvents = observability.Adopt(r, m.droppedEvents)
	return m, r.Err()
}
