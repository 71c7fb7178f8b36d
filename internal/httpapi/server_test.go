package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarenet/ftso-feed-provider/internal/aggregator"
	"github.com/flarenet/ftso-feed-provider/internal/cache"
	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/failover"
	"github.com/flarenet/ftso-feed-provider/internal/metrics"
	"github.com/flarenet/ftso-feed-provider/internal/monitor"
	"github.com/flarenet/ftso-feed-provider/internal/orchestrator"
	"github.com/flarenet/ftso-feed-provider/internal/ratelimit"
	"github.com/flarenet/ftso-feed-provider/internal/validator"
	"github.com/flarenet/ftso-feed-provider/internal/warmer"
)

func newTestServer(t *testing.T, limiterCfg ratelimit.Config) *Server {
	c := cache.New(cache.DefaultConfig(), zerolog.Nop())
	t.Cleanup(c.Close)

	var o *orchestrator.Orchestrator
	v := validator.New(validator.DefaultConfig(), func(symbol string) (float64, []string, bool) {
		return o.RecentMedian(symbol)
	}, zerolog.Nop())

	w := warmer.New(warmer.DefaultConfig(), c, func(_ context.Context, _ domain.FeedId) (any, error) {
		return nil, nil
	}, zerolog.Nop())

	fc := failover.New(failover.DefaultConfig(), zerolog.Nop())

	o = orchestrator.New(orchestrator.DefaultConfig(), c, v, aggregator.DefaultConfig(), w, fc, zerolog.Nop())

	limiter := ratelimit.New(limiterCfg)
	t.Cleanup(limiter.Close)

	mon := monitor.New(256, func() (float64, int64, int64) {
		st := c.GetStats()
		return st.HitRate, st.MemoryUsage, st.Entries
	}, monitor.DefaultThresholds())

	reg := prometheus.NewRegistry()
	mreg := metrics.NewRegistry(reg)

	return NewServer(DefaultServerConfig(), o, c, limiter, limiterCfg, fc, w, mon, mreg, reg, zerolog.Nop())
}

func btcUsdDTO() FeedIdDTO {
	return FeedIdDTO{Category: domain.CategoryCrypto, Name: "BTC/USD"}
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestPostFeedValues_ReturnsAggregatedPriceAfterIngestAndTick(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	feed, err := domain.NewFeedId(domain.CategoryCrypto, "BTC/USD")
	require.NoError(t, err)
	s.orch.RegisterFeed(feed)

	now := time.Now().UnixMilli()
	s.orch.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.0, TimestampMs: now, Source: "s1", Confidence: 0.9})
	s.orch.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.1, TimestampMs: now, Source: "s2", Confidence: 0.9})
	s.orch.Tick()

	rec := doJSON(t, s, http.MethodPost, "/feed-values", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FeedValuesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.NotNil(t, resp.Data[0].Value)
	assert.InDelta(t, 100.05, *resp.Data[0].Value, 0.1)
}

func TestPostFeedValues_MissingDataReportsReasonNotError(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	rec := doJSON(t, s, http.MethodPost, "/feed-values", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FeedValuesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Nil(t, resp.Data[0].Value)
	assert.NotEmpty(t, resp.Data[0].Reason)
}

func TestPostFeedValues_InvalidFeedIdReturns400(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	rec := doJSON(t, s, http.MethodPost, "/feed-values", FeedValuesRequest{Feeds: []FeedIdDTO{{Category: domain.CategoryCrypto, Name: "not-a-symbol"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostFeedValuesForRound_NegativeIdReturns400WithNonNegativeMessage(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	rec := doJSON(t, s, http.MethodPost, "/feed-values/-1", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `(?i)non-negative`, resp.Message)
}

func TestPostFeedValuesForRound_NonNumericIdReturns400WithNumericMessage(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	rec := doJSON(t, s, http.MethodPost, "/feed-values/abc", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `(?i)numeric|expected`, resp.Message)
}

func TestPostFeedValuesForRound_NoSnapshotReturns404(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	rec := doJSON(t, s, http.MethodPost, "/feed-values/123", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit_FourthRequestIsBlockedWith429(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 3})

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = doJSON(t, s, http.MethodPost, "/feed-values", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &resp))
	require.NotNil(t, resp.RateLimitInfo)
	assert.LessOrEqual(t, resp.RateLimitInfo.RetryAfterSeconds, int64(60))
	require.NotNil(t, resp.ClientInfo)
}

func TestGetHealth_ReportsStatusAndTimestamp(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestGetReadinessAndLiveness(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})

	req := httptest.NewRequest(http.MethodGet, "/health/readiness", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.True(t, ready.Ready)

	req = httptest.NewRequest(http.MethodGet, "/health/liveness", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var live LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	assert.True(t, live.Alive)
}

func TestGetMetrics_PrometheusAndJSONSummaries(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	doJSON(t, s, http.MethodPost, "/feed-values", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ftso_feed_provider_requests_total")

	req = httptest.NewRequest(http.MethodGet, "/metrics/api", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var api metrics.APISnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &api))
	assert.GreaterOrEqual(t, api.Requests, int64(1))

	req = httptest.NewRequest(http.MethodGet, "/metrics/performance", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var perf PerformanceMetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perf))
}

func TestPostVolumes_SumsRecentVolumeWithinWindow(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	feed, err := domain.NewFeedId(domain.CategoryCrypto, "BTC/USD")
	require.NoError(t, err)
	s.orch.RegisterFeed(feed)

	now := time.Now().UnixMilli()
	s.orch.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.0, TimestampMs: now, Source: "s1", Volume: 10, HasVolume: true, Confidence: 0.9})
	s.orch.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.1, TimestampMs: now, Source: "s2", Volume: 20, HasVolume: true, Confidence: 0.9})

	rec := doJSON(t, s, http.MethodPost, "/volumes?windowSec=60", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VolumesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.NotNil(t, resp.Data[0].Volume)
	assert.InDelta(t, 30.0, *resp.Data[0].Volume, 0.001)
}

func TestPostVolumes_InvalidWindowReturns400(t *testing.T) {
	s := newTestServer(t, ratelimit.Config{WindowMs: 60_000, MaxRequests: 100})
	rec := doJSON(t, s, http.MethodPost, "/volumes?windowSec=-5", FeedValuesRequest{Feeds: []FeedIdDTO{btcUsdDTO()}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
