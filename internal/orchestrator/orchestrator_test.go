package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarenet/ftso-feed-provider/internal/aggregator"
	"github.com/flarenet/ftso-feed-provider/internal/cache"
	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/failover"
	"github.com/flarenet/ftso-feed-provider/internal/validator"
	"github.com/flarenet/ftso-feed-provider/internal/warmer"
)

type noopCacheProbe struct{}

func (noopCacheProbe) CurrentEntryStatus(domain.FeedId) (bool, time.Time) { return false, time.Time{} }
func (noopCacheProbe) WriteCurrent(domain.FeedId, any, time.Duration)     {}

func btcUsd(t *testing.T) domain.FeedId {
	f, err := domain.NewFeedId(domain.CategoryCrypto, "BTC/USD")
	require.NoError(t, err)
	return f
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	c := cache.New(cache.DefaultConfig(), zerolog.Nop())
	t.Cleanup(c.Close)

	var o *Orchestrator
	v := validator.New(validator.DefaultConfig(), func(symbol string) (float64, []string, bool) {
		return o.RecentMedian(symbol)
	}, zerolog.Nop())

	w := warmer.New(warmer.DefaultConfig(), noopCacheProbe{}, func(_ context.Context, _ domain.FeedId) (any, error) {
		return nil, nil
	}, zerolog.Nop())

	fc := failover.New(failover.DefaultConfig(), zerolog.Nop())

	o = New(DefaultConfig(), c, v, aggregator.DefaultConfig(), w, fc, zerolog.Nop())
	return o
}

func TestOrchestrator_IngestThenTickPopulatesCache(t *testing.T) {
	o := newTestOrchestrator(t)
	feed := btcUsd(t)
	o.RegisterFeed(feed)

	now := time.Now().UnixMilli()
	o.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.0, TimestampMs: now, Source: "s1", Confidence: 0.9})
	o.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.1, TimestampMs: now, Source: "s2", Confidence: 0.9})

	o.Tick()

	ap, ok := o.Query(feed)
	require.True(t, ok)
	assert.InDelta(t, 100.05, ap.Price, 0.1)
	assert.ElementsMatch(t, []string{"s1", "s2"}, ap.Sources)
}

func TestOrchestrator_QueryMissOnUnknownFeed(t *testing.T) {
	o := newTestOrchestrator(t)
	feed := btcUsd(t)
	_, ok := o.Query(feed)
	assert.False(t, ok)
}

func TestOrchestrator_SnapshotAndInvalidateVotingRound(t *testing.T) {
	o := newTestOrchestrator(t)
	feed := btcUsd(t)
	o.RegisterFeed(feed)

	now := time.Now().UnixMilli()
	o.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.0, TimestampMs: now, Source: "s1", Confidence: 0.9})
	o.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.1, TimestampMs: now, Source: "s2", Confidence: 0.9})
	o.Tick()

	ok := o.SnapshotVotingRound(feed, domain.VotingRound(1))
	require.True(t, ok)

	_, found := o.QueryVotingRound(feed, domain.VotingRound(1))
	assert.True(t, found)

	o.InvalidateVotingRounds(feed)
	_, found = o.QueryVotingRound(feed, domain.VotingRound(1))
	assert.False(t, found)
}

func TestOrchestrator_RecentMedianAcrossBufferedUpdates(t *testing.T) {
	o := newTestOrchestrator(t)
	feed := btcUsd(t)
	o.RegisterFeed(feed)

	now := time.Now().UnixMilli()
	o.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 100.0, TimestampMs: now, Source: "s1", Confidence: 0.9})
	o.IngestUpdate(feed, domain.PriceUpdate{Symbol: "BTC/USD", Price: 102.0, TimestampMs: now, Source: "s2", Confidence: 0.9})

	median, sources, ok := o.RecentMedian("BTC/USD")
	require.True(t, ok)
	assert.InDelta(t, 101.0, median, 0.001)
	assert.ElementsMatch(t, []string{"s1", "s2"}, sources)
}
