package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so that tests can build as many as they like.
// All Observe methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	tokenValidations    *prometheus.CounterVec
	logins              *prometheus.CounterVec
	auditRecords        *prometheus.CounterVec
	auditVerifyFailures prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_token_validations_total",
			Help: "Access token validations by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		auditRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_audit_records_total",
			Help: "Audit records written by action and outcome.",
		}, []string{"action", "outcome"}),
		auditVerifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_audit_verify_failures_total",
			Help: "Audit records whose signature did not verify.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.tokenValidations,
		m.logins,
		m.auditRecords,
		m.auditVerifyFailures,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records request count, latency and in-flight requests.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// ObserveTokenValidation counts a validation outcome such as "ok" or "token_expired".
func (m *Metrics) ObserveTokenValidation(result string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(result).Inc()
}

// ObserveLogin counts a login attempt.
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// ObserveAuditRecord counts a persisted audit record.
func (m *Metrics) ObserveAuditRecord(action, outcome string) {
	if m == nil {
		return
	}
	m.auditRecords.WithLabelValues(action, outcome).Inc()
}

// ObserveAuditVerifyFailures adds n records that failed verification.
func (m *Metrics) ObserveAuditVerifyFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.auditVerifyFailures.Add(float64(n))
}

// CanonicalPath collapses numeric path segments to ":id" to keep label
// cardinality bounded, and drops any query string.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
