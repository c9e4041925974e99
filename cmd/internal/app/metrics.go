package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the process registry and the HTTP request instruments.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics builds the registry with Go runtime and process collectors
// plus the request instruments.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepguard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path, and status class.",
		}, []string{"method", "path", "class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deepguard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WithMetrics instruments the mux. Path labels use the matched route
// pattern, not the raw URL, to keep cardinality bounded.
func (m *Metrics) WithMetrics(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		mux.ServeHTTP(lrw, r)

		_, path := mux.Handler(r)
		if path == "" {
			path = "unmatched"
		}
		m.requestsTotal.WithLabelValues(r.Method, path, statusClass(lrw.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
