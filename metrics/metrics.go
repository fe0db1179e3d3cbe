// Package metrics provides Prometheus metrics for session and API operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for session and API operations.
// A nil *Metrics, or one built with a nil registerer, records nothing.
type Metrics struct {
	enabled bool

	// Authentication metrics
	authAttemptsTotal *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec

	// API client metrics
	apiRequestsTotal   *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec

	// Session metrics
	sessionAuthenticated prometheus.Gauge
	storeErrorsTotal     *prometheus.CounterVec
}

// New creates Prometheus metrics and registers them on reg.
// If reg is nil, returns a no-op Metrics instance.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}

	if !m.enabled {
		return m
	}

	m.authAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_auth_attempts_total",
		Help: "Total authentication attempts",
	}, []string{"method", "result"})

	m.authFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_auth_failures_total",
		Help: "Total authentication failures",
	}, []string{"method", "reason"})

	m.apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_api_requests_total",
		Help: "Total API client requests",
	}, []string{"op", "outcome"})

	m.apiRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "todo_api_request_duration_seconds",
		Help:    "API client request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	m.sessionAuthenticated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "todo_session_authenticated",
		Help: "Whether a session is currently authenticated (0=no, 1=yes)",
	})

	m.storeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_session_store_errors_total",
		Help: "Total durable session store errors",
	}, []string{"op"})

	reg.MustRegister(
		m.authAttemptsTotal,
		m.authFailuresTotal,
		m.apiRequestsTotal,
		m.apiRequestDuration,
		m.sessionAuthenticated,
		m.storeErrorsTotal,
	)

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordAuthSuccess records a successful authentication.
func (m *Metrics) RecordAuthSuccess(method string) {
	if !m.on() {
		return
	}
	m.authAttemptsTotal.WithLabelValues(method, "success").Inc()
}

// RecordAuthFailure records a failed authentication.
func (m *Metrics) RecordAuthFailure(method, reason string) {
	if !m.on() {
		return
	}
	m.authAttemptsTotal.WithLabelValues(method, "failure").Inc()
	m.authFailuresTotal.WithLabelValues(method, reason).Inc()
}

// RecordRequest records one API client round trip.
// outcome is "success", "http_error" or "transport_error".
func (m *Metrics) RecordRequest(op, outcome string, d time.Duration) {
	if !m.on() {
		return
	}
	m.apiRequestsTotal.WithLabelValues(op, outcome).Inc()
	m.apiRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetAuthenticated sets the session gauge.
func (m *Metrics) SetAuthenticated(authenticated bool) {
	if !m.on() {
		return
	}
	v := 0.0
	if authenticated {
		v = 1.0
	}
	m.sessionAuthenticated.Set(v)
}

// RecordStoreError records a failed durable store operation.
func (m *Metrics) RecordStoreError(op string) {
	if !m.on() {
		return
	}
	m.storeErrorsTotal.WithLabelValues(op).Inc()
}
