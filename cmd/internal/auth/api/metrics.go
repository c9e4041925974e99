package authapi

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts auth outcomes. All methods are nil-safe so the handler
// works without a registry in tests.
type Metrics struct {
	logins    *prometheus.CounterVec
	rotations *prometheus.CounterVec
	otpSends  *prometheus.CounterVec
}

// NewMetrics registers the auth counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepguard",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepguard",
			Subsystem: "auth",
			Name:      "refresh_rotations_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		otpSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepguard",
			Subsystem: "auth",
			Name:      "otp_sends_total",
			Help:      "OTP emails sent by purpose.",
		}, []string{"purpose"}),
	}
	reg.MustRegister(m.logins, m.rotations, m.otpSends)
	return m
}

func (m *Metrics) login(method, outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) rotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) otpSent(purpose string) {
	if m == nil {
		return
	}
	m.otpSends.WithLabelValues(purpose).Inc()
}
