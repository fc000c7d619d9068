package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics methods are no-ops on a nil receiver.
type Metrics struct {
	signIns       *prometheus.CounterVec
	noncesIssued  prometheus.Counter
	decisions     *prometheus.CounterVec
	grantsExpired prometheus.Counter
	httpDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atms",
			Name:      "signin_total",
			Help:      "Sign-in attempts by outcome.",
		}, []string{"outcome"}),
		noncesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atms",
			Name:      "nonces_issued_total",
			Help:      "Sign-in nonces issued.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atms",
			Name:      "authorization_decisions_total",
			Help:      "Authorization decisions by role and result.",
		}, []string{"role", "result"}),
		grantsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atms",
			Name:      "grants_expired_total",
			Help:      "Sharing grants marked expired by the sweep job.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atms",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.signIns, m.noncesIssued, m.decisions, m.grantsExpired, m.httpDuration)
	return m
}

func (m *Metrics) SignIn(outcome string) {
	if m == nil {
		return
	}
	m.signIns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NonceIssued() {
	if m == nil {
		return
	}
	m.noncesIssued.Inc()
}

func (m *Metrics) Decision(role string, allowed bool) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	if role == "" {
		role = "anonymous"
	}
	m.decisions.WithLabelValues(role, result).Inc()
}

func (m *Metrics) GrantsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.grantsExpired.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
