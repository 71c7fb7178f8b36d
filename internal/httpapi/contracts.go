package httpapi

import (
	"time"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

// FeedIdDTO is the wire shape of a FeedId: Category travels as its
// underlying integer value, matching the numbering in domain.Category.
type FeedIdDTO struct {
	Category domain.Category `json:"category"`
	Name     string          `json:"name"`
}

// FeedValuesRequest is the body of POST /feed-values and
// POST /feed-values/:votingRoundId.
type FeedValuesRequest struct {
	Feeds []FeedIdDTO `json:"feeds"`
}

// FeedValueEntry is one feed's resolved value, or the reason it has none.
type FeedValueEntry struct {
	Feed   FeedIdDTO `json:"feed"`
	Value  *float64  `json:"value"`
	Reason string    `json:"reason,omitempty"`
}

// FeedValuesResponse is the 2xx body of POST /feed-values.
type FeedValuesResponse struct {
	Feeds []FeedIdDTO      `json:"feeds"`
	Data  []FeedValueEntry `json:"data"`
}

// VotingRoundResponse is the 2xx body of POST /feed-values/:votingRoundId.
type VotingRoundResponse struct {
	VotingRoundId uint64           `json:"votingRoundId"`
	Data          []FeedValueEntry `json:"data"`
}

// VolumeEntry is one feed's summed volume over the requested window.
type VolumeEntry struct {
	Feed   FeedIdDTO `json:"feed"`
	Volume *float64  `json:"volume"`
	Reason string    `json:"reason,omitempty"`
}

// VolumesResponse is the 2xx body of POST /volumes.
type VolumesResponse struct {
	Feeds     []FeedIdDTO   `json:"feeds"`
	WindowSec int           `json:"windowSec"`
	Data      []VolumeEntry `json:"data"`
}

// ErrorResponse is the shared shape of every non-2xx body.
type ErrorResponse struct {
	Error         string         `json:"error"`
	Message       string         `json:"message"`
	Timestamp     time.Time      `json:"timestamp"`
	RequestId     string         `json:"requestId"`
	RateLimitInfo *RateLimitInfo `json:"rateLimitInfo,omitempty"`
	ClientInfo    *ClientInfo    `json:"clientInfo,omitempty"`
}

// RateLimitInfo decorates a 429 body with the limiter state that produced
// it.
type RateLimitInfo struct {
	Limit             int   `json:"limit"`
	WindowMs          int64 `json:"windowMs"`
	TotalHits         int64 `json:"totalHits"`
	TotalHitsInWindow int64 `json:"totalHitsInWindow"`
	RetryAfterSeconds int64 `json:"retryAfterSeconds"`
	ResetTime         int64 `json:"resetTime"`
}

// ClientInfo decorates a 429 body with the request that was blocked.
type ClientInfo struct {
	ClientId string `json:"clientId"`
	Method   string `json:"method"`
	URL      string `json:"url"`
}

// SourceHealthDTO is one exchange source's health as reported by the
// SourceHealth model.
type SourceHealthDTO struct {
	SourceId      string    `json:"sourceId"`
	Status        string    `json:"status"`
	LastUpdate    time.Time `json:"lastUpdate"`
	ErrorCount    int64     `json:"errorCount"`
	RecoveryCount int64     `json:"recoveryCount"`
}

// HealthResponse is the 2xx body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Services  Services  `json:"services"`
}

// Services reports the health of the provider's internal components.
type Services struct {
	Cache   CacheHealth       `json:"cache"`
	Sources []SourceHealthDTO `json:"sources"`
	Warmer  WarmerHealth      `json:"warmer"`
}

// CacheHealth summarizes cache.Stats for the health surface.
type CacheHealth struct {
	HitRate     float64 `json:"hitRate"`
	Entries     int64   `json:"entries"`
	MemoryUsage int64   `json:"memoryUsage"`
}

// WarmerHealth summarizes warmer.WarmupStats for the health surface.
type WarmerHealth struct {
	TrackedFeeds int      `json:"trackedFeeds"`
	Strategies   []string `json:"strategies"`
}

// ReadinessResponse is the 2xx body of GET /health/readiness.
type ReadinessResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// LivenessResponse is the 2xx body of GET /health/liveness.
type LivenessResponse struct {
	Alive  bool    `json:"alive"`
	Uptime float64 `json:"uptime"`
}

// PerformanceMetricsResponse is the 2xx body of GET /metrics/performance.
type PerformanceMetricsResponse struct {
	ResponseTime ResponseTimeMetrics `json:"responseTime"`
	Throughput   float64             `json:"throughput"`
}

// ResponseTimeMetrics reports the monitor's rolling-window percentiles in
// milliseconds.
type ResponseTimeMetrics struct {
	MeanMs float64 `json:"meanMs"`
	P50Ms  float64 `json:"p50Ms"`
	P95Ms  float64 `json:"p95Ms"`
	P99Ms  float64 `json:"p99Ms"`
}
