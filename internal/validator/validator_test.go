package validator

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

func nowMs() int64 { return time.Now().UnixMilli() }

func discardLogger() zerolog.Logger { return zerolog.Nop() }

func TestValidator_FreshnessRule(t *testing.T) {
	v := New(DefaultConfig(), nil, discardLogger())

	stale := domain.PriceUpdate{
		Symbol: "BTC/USD", Price: 100, Source: "s1", Confidence: 0.9,
		TimestampMs: nowMs() - 3000,
	}
	result := v.Validate(stale)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ErrKindStale, result.Errors[0].Kind)
}

func TestValidator_TypeRule(t *testing.T) {
	v := New(DefaultConfig(), nil, discardLogger())

	bad := domain.PriceUpdate{Symbol: "BTC/USD", Price: -5, Source: "s1", TimestampMs: nowMs()}
	result := v.Validate(bad)
	assert.False(t, result.IsValid)
	assert.Equal(t, domain.SeverityCritical, result.Errors[0].Severity)
}

func TestValidator_OutlierRejectedUnlessTrusted(t *testing.T) {
	recentMedian := func(symbol string) (float64, []string, bool) {
		return 100.0, []string{"s1", "s2"}, true
	}
	cfg := DefaultConfig()
	v := New(cfg, recentMedian, discardLogger())

	outlier := domain.PriceUpdate{Symbol: "BTC/USD", Price: 150, Source: "s3", Confidence: 0.9, TimestampMs: nowMs()}
	result := v.Validate(outlier)
	assert.False(t, result.IsValid)

	cfg.TrustedMajority = func(source string, recent []string) bool { return source == "s3" }
	v2 := New(cfg, recentMedian, discardLogger())
	trusted := domain.PriceUpdate{Symbol: "BTC/USD", Price: 150, Source: "s3", Confidence: 0.9, TimestampMs: nowMs() + 1}
	result2 := v2.Validate(trusted)
	assert.True(t, result2.IsValid)
}

func TestValidator_ResultCacheHit(t *testing.T) {
	v := New(DefaultConfig(), nil, discardLogger())

	update := domain.PriceUpdate{Symbol: "BTC/USD", Price: 100, Source: "s1", Confidence: 0.9, TimestampMs: nowMs()}
	r1 := v.Validate(update)
	r2 := v.Validate(update)
	assert.Equal(t, r1, r2)
	assert.Len(t, v.cache, 1)
}

func TestValidator_BatchPassthroughWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchValidationEnabled = false
	v := New(cfg, nil, discardLogger())

	updates := []domain.PriceUpdate{
		{Symbol: "BTC/USD", Price: -1, Source: "s1", Confidence: 0.42, TimestampMs: nowMs()},
	}
	results := v.ValidateBatch(updates)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsValid)
	assert.Equal(t, 0.42, results[0].Confidence)
}
