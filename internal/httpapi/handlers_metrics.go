package httpapi

import (
	"net/http"
	"time"
)

// getAPIMetrics handles GET /metrics/api.
func (s *Server) getAPIMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// getPerformanceMetrics handles GET /metrics/performance.
func (s *Server) getPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	p := s.monitor.Percentiles()

	elapsed := time.Since(s.startTime).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(s.metrics.Snapshot().Responses) / elapsed
	}

	writeJSON(w, http.StatusOK, PerformanceMetricsResponse{
		ResponseTime: ResponseTimeMetrics{
			MeanMs: durationMs(p.Mean),
			P50Ms:  durationMs(p.P50),
			P95Ms:  durationMs(p.P95),
			P99Ms:  durationMs(p.P99),
		},
		Throughput: throughput,
	})
}
