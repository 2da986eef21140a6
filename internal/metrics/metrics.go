// Package metrics holds the Prometheus collectors of the HTTP API and the
// repository layer.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prodesk"

// Metrics is a set of collectors registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	repoOps      *prometheus.CounterVec
	repoDuration *prometheus.HistogramVec

	backendLoaded prometheus.Gauge
}

// New creates and registers the collectors. Process and Go runtime
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		repoOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "operations_total",
			Help:      "Repository operations by backend, operation and outcome.",
		}, []string{"backend", "operation", "success"}),
		repoDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "operation_duration_seconds",
			Help:      "Duration of repository operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"backend", "operation"}),
		backendLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supabase",
			Name:      "backend_loaded",
			Help:      "1 once the Supabase client has been constructed.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.repoOps,
		m.repoDuration,
		m.backendLoaded,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one finished request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordRepositoryOperation records one repository call.
func (m *Metrics) RecordRepositoryOperation(backend, operation string, duration time.Duration, err error) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	success := "true"
	if err != nil {
		success = "false"
	}
	m.repoOps.WithLabelValues(backend, operation, success).Inc()
	m.repoDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// SetBackendLoaded reports whether the Supabase client exists yet.
func (m *Metrics) SetBackendLoaded(loaded bool) {
	if loaded {
		m.backendLoaded.Set(1)
		return
	}
	m.backendLoaded.Set(0)
}
