// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "monaca"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	authOutcomes *prometheus.CounterVec
	rateLimit    *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	swept        *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "outcomes_total",
			Help:      "Auth operations by operation and outcome code.",
		}, []string{"op", "code"}),
		rateLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter decisions by call site.",
		}, []string{"prefix", "decision"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "issued_total",
			Help:      "Login sessions issued by origin.",
		}, []string{"origin"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "swept_total",
			Help:      "Expired records deleted by the sweeper.",
		}, []string{"kind"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "class"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authOutcomes,
		m.rateLimit,
		m.sessions,
		m.swept,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveAuth counts one auth operation. code is "OK" on success.
func (m *Metrics) ObserveAuth(op, code string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(op, code).Inc()
}

// ObserveRateLimit implements ratelimit.Observer.
func (m *Metrics) ObserveRateLimit(prefix string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.rateLimit.WithLabelValues(prefix, decision).Inc()
}

// ObserveSessionIssued counts a new login session.
func (m *Metrics) ObserveSessionIssued(origin string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(origin).Inc()
}

// ObserveSweep counts records deleted for kind.
func (m *Metrics) ObserveSweep(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(kind).Add(float64(n))
}

// ObserveHTTP records one request duration.
func (m *Metrics) ObserveHTTP(route, class string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, class).Observe(seconds)
}
