package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	decisions       *prometheus.CounterVec
	throttled       *prometheus.CounterVec
	auditWritten    prometheus.Counter
	auditDropped    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers collectors on a dedicated registry
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authz_decisions_total",
				Help:      "Authorization chain outcomes by stage and reason",
			},
			[]string{"stage", "outcome", "reason"},
		),
		throttled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_throttled_total",
				Help:      "Requests throttled by route class",
			},
			[]string{"route_class"},
		),
		auditWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_records_written_total",
				Help:      "Audit records persisted",
			},
		),
		auditDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_records_dropped_total",
				Help:      "Audit records that could not be persisted, by cause",
			},
			[]string{"cause"},
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tenant_resolve_duration_seconds",
				Help:      "Latency of credential validation and principal lookup, by result",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.decisions,
		m.throttled,
		m.auditWritten,
		m.auditDropped,
		m.resolveDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveDecision counts one chain outcome
func (m *Metrics) ObserveDecision(stage, outcome, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(stage, outcome, reason).Inc()
}

// ObserveThrottle counts one throttled request
func (m *Metrics) ObserveThrottle(routeClass string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(routeClass).Inc()
}

// AuditWritten counts one persisted audit record
func (m *Metrics) AuditWritten() {
	if m == nil {
		return
	}
	m.auditWritten.Inc()
}

// AuditDropped counts one audit record lost for cause
func (m *Metrics) AuditDropped(cause string) {
	if m == nil {
		return
	}
	m.auditDropped.WithLabelValues(cause).Inc()
}

// ObserveResolve records tenant context resolution latency
func (m *Metrics) ObserveResolve(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolveDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records request count and latency labelled by the chi route pattern
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		m.httpRequests.WithLabelValues(r.Method, route, status).Inc()
		m.httpDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
