// Package metrics wires the HTTP surface's request/response/error counters
// into Prometheus as a registry of label-vectors, alongside plain counters
// for the JSON summary endpoints.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector the HTTP surface feeds, plus
// plain atomic counters for the JSON summary endpoints (/metrics/api and
// /metrics/performance), which would otherwise require scraping the
// registry's own collectors back out of Prometheus.
type Registry struct {
	RequestsTotal  *prometheus.CounterVec
	ResponsesTotal *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	requests  atomic.Int64
	responses atomic.Int64
	errors    atomic.Int64
}

// NewRegistry constructs a Registry and registers its collectors with reg.
// Pass prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer in production.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftso_feed_provider_requests_total",
				Help: "Total HTTP requests received, by method and path.",
			},
			[]string{"method", "path"},
		),
		ResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftso_feed_provider_responses_total",
				Help: "Total HTTP responses sent, by status class.",
			},
			[]string{"status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftso_feed_provider_errors_total",
				Help: "Total HTTP error responses, by caller-supplied kind label.",
			},
			[]string{"kind"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftso_feed_provider_request_duration_seconds",
				Help:    "HTTP request latency in seconds, by path.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(r.RequestsTotal, r.ResponsesTotal, r.ErrorsTotal, r.RequestLatency)
	return r
}

// RecordRequest records one inbound request.
func (r *Registry) RecordRequest(method, path string) {
	r.RequestsTotal.WithLabelValues(method, path).Inc()
	r.requests.Add(1)
}

// RecordResponse records one outbound response, labelled by its status
// class ("2xx", "4xx", "5xx"), and the time it took to produce.
func (r *Registry) RecordResponse(statusClass, path string, elapsed time.Duration) {
	r.ResponsesTotal.WithLabelValues(statusClass).Inc()
	r.RequestLatency.WithLabelValues(path).Observe(elapsed.Seconds())
	r.responses.Add(1)
}

// RecordError records one error response under the given kind label. The
// HTTP logging middleware passes the response's status class ("4xx", "5xx").
func (r *Registry) RecordError(kind string) {
	r.ErrorsTotal.WithLabelValues(kind).Inc()
	r.errors.Add(1)
}

// APISnapshot is the JSON shape for GET /metrics/api.
type APISnapshot struct {
	Requests  int64 `json:"requests"`
	Responses int64 `json:"responses"`
	Errors    int64 `json:"errors"`
}

// Snapshot reads the plain-counter totals backing /metrics/api.
func (r *Registry) Snapshot() APISnapshot {
	return APISnapshot{
		Requests:  r.requests.Load(),
		Responses: r.responses.Load(),
		Errors:    r.errors.Load(),
	}
}

// Handler returns the Prometheus text-exposition handler for GET /metrics.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
