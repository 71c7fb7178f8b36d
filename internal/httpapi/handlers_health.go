package httpapi

import (
	"net/http"
	"time"
)

// getHealth handles GET /health.
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	cacheStats := s.cache.GetStats()

	var sources []SourceHealthDTO
	overallStatus := "healthy"
	if s.failover != nil {
		for _, h := range s.failover.AllSourceHealth() {
			sources = append(sources, SourceHealthDTO{
				SourceId:      h.SourceId,
				Status:        string(h.Status),
				LastUpdate:    h.LastUpdate,
				ErrorCount:    h.ErrorCount,
				RecoveryCount: h.RecoveryCount,
			})
			if string(h.Status) == "unhealthy" {
				overallStatus = "degraded"
			}
		}
	}

	warmerHealth := WarmerHealth{}
	if s.warmer != nil {
		stats := s.warmer.GetWarmupStats()
		warmerHealth.TrackedFeeds = stats.TotalPatterns
		warmerHealth.Strategies = stats.Strategies
	}

	resp := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC(),
		Services: Services{
			Cache: CacheHealth{
				HitRate:     cacheStats.HitRate,
				Entries:     cacheStats.Entries,
				MemoryUsage: cacheStats.MemoryUsage,
			},
			Sources: sources,
			Warmer:  warmerHealth,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// getReadiness handles GET /health/readiness: the provider is ready once it
// has at least one non-unhealthy source for some feed, or no sources are
// registered yet (a fresh process with no candidates configured is not
// itself a readiness failure).
func (s *Server) getReadiness(w http.ResponseWriter, r *http.Request) {
	ready := true
	if s.failover != nil {
		all := s.failover.AllSourceHealth()
		if len(all) > 0 {
			ready = false
			for _, h := range all {
				if string(h.Status) != "unhealthy" {
					ready = true
					break
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Ready: ready, Timestamp: time.Now().UTC()})
}

// getLiveness handles GET /health/liveness.
func (s *Server) getLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Alive:  true,
		Uptime: time.Since(s.startTime).Seconds(),
	})
}
