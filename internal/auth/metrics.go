package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts auth outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registrations prometheus.Counter
	Logins        *prometheus.CounterVec
	Lockouts      prometheus.Counter
	Refreshes     *prometheus.CounterVec
	SessionsSwept prometheus.Counter
}

// NewMetrics builds the counters and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "registrations_total",
			Help:      "Accounts registered.",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		Lockouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "lockouts_total",
			Help:      "Accounts locked after repeated failures.",
		}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "refreshes_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		SessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "sessions_swept_total",
			Help:      "Expired sessions removed by sweeps.",
		}),
	}
}

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) refresh(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) registered() {
	if m != nil {
		m.Registrations.Inc()
	}
}

func (m *Metrics) locked() {
	if m != nil {
		m.Lockouts.Inc()
	}
}

func (m *Metrics) swept(n int64) {
	if m != nil {
		m.SessionsSwept.Add(float64(n))
	}
}
