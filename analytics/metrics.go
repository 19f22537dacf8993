package analytics

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts ingested and rejected events.
type Metrics struct {
	events   *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// NewMetrics registers the analytics collectors on reg. A nil reg yields
// unregistered collectors, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubdesk",
				Subsystem: "analytics",
				Name:      "events_total",
				Help:      "Analytics events stored, by event type.",
			},
			[]string{"event_type"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubdesk",
				Subsystem: "analytics",
				Name:      "rejected_total",
				Help:      "Analytics events not stored, by reason.",
			},
			[]string{"reason"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.rejected)
	}
	return m
}

func (m *Metrics) stored(t EventType) {
	if m != nil {
		m.events.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) reject(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}
