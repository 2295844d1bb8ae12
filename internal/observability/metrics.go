// Package observability exposes the metrics ring's derivations as real
// Prometheus collectors. The teacher's observability/metrics.go hand-rolls
// atomic Counter/Gauge/Histogram types for LLM request cost/latency; that is
// exactly the ambient "a library already does this" concern the ecosystem
// is reached for elsewhere in the pack (prometheus/client_golang, named in
// r3e-network-service_layer and ChoSanghyuk-blackholedex's go.mod), so here
// we register real collectors instead of reimplementing counters by hand.
// The bounded ring itself (internal/metricsring) stays custom because it is
// spec-mandated business logic, not an ambient concern.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riskgateway/platform/internal/metricsring"
)

// Metrics wraps the Prometheus collectors fed by the ingress pipeline's
// metrics-capture stage (spec.md §4.B stage 8).
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ingress_requests_total",
			Help: "Completed ingress requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_ingress_request_duration_seconds",
			Help:    "Ingress request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_dispatch_total",
			Help: "Outbound dispatcher calls by service and outcome.",
		}, []string{"service", "outcome"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_dispatch_duration_seconds",
			Help:    "Outbound dispatcher call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.dispatchTotal, m.dispatchLatency)
	return m
}

// ObserveRequest records one completed ingress request.
func (m *Metrics) ObserveRequest(rec metricsring.Record) {
	status := statusBucket(rec.Status)
	m.requestsTotal.WithLabelValues(rec.Method, rec.Path, status).Inc()
	m.requestDuration.WithLabelValues(rec.Method, rec.Path).Observe(rec.Latency.Seconds())
}

// ObserveDispatch records one outbound dispatcher call.
func (m *Metrics) ObserveDispatch(service, outcome string, seconds float64) {
	m.dispatchTotal.WithLabelValues(service, outcome).Inc()
	m.dispatchLatency.WithLabelValues(service).Observe(seconds)
}

// Handler returns the Prometheus exposition handler (the ingress router
// mounts it at /api/metrics).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
