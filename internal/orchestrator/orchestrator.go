// Package orchestrator wires adapter ingest through the validator and
// aggregator into the cache, drives the warmer, and serves feed queries.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flarenet/ftso-feed-provider/internal/aggregator"
	"github.com/flarenet/ftso-feed-provider/internal/cache"
	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/events"
	"github.com/flarenet/ftso-feed-provider/internal/failover"
	"github.com/flarenet/ftso-feed-provider/internal/validator"
	"github.com/flarenet/ftso-feed-provider/internal/warmer"
)

// Config holds the orchestrator's tunables.
type Config struct {
	TickInterval time.Duration
	BufferSize   int
	CurrentTTL   time.Duration
}

// DefaultConfig returns a 1s aggregation tick with a 64-update rolling
// window per feed and the cache's max current-view TTL.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		BufferSize:   64,
		CurrentTTL:   cache.MaxCurrentTTL,
	}
}

// Orchestrator wires ingest through aggregation into the cache and serves
// feed queries.
type Orchestrator struct {
	cfg        Config
	cache      *cache.Cache
	validator  *validator.Validator
	aggCfg     aggregator.Config
	warmer     *warmer.Warmer
	failover   *failover.Coordinator
	log        zerolog.Logger

	accessEvents *events.Broadcaster[domain.FeedId]

	mu      sync.Mutex
	buffers map[domain.FeedId]*updateBuffer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an Orchestrator. The validator passed in should have been
// constructed with this Orchestrator's RecentMedian as its
// validator.RecentMedianFunc, so the two can observe each other's state
// without an import cycle (validator never imports orchestrator).
func New(cfg Config, c *cache.Cache, v *validator.Validator, aggCfg aggregator.Config, w *warmer.Warmer, fc *failover.Coordinator, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		cache:        c,
		validator:    v,
		aggCfg:       aggCfg,
		warmer:       w,
		failover:     fc,
		log:          log.With().Str("component", "orchestrator").Logger(),
		accessEvents: events.NewBroadcaster[domain.FeedId](256),
		buffers:      make(map[domain.FeedId]*updateBuffer),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// RegisterFeed pre-creates feed's rolling buffer, so the feed is known before
// its first update arrives. Query does not depend on it: a feed with no
// current aggregate is a plain miss whether or not it was registered.
func (o *Orchestrator) RegisterFeed(feed domain.FeedId) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.buffers[feed]; !ok {
		o.buffers[feed] = newUpdateBuffer(o.cfg.BufferSize)
	}
}

func (o *Orchestrator) bufferFor(feed domain.FeedId) *updateBuffer {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.buffers[feed]
	if !ok {
		b = newUpdateBuffer(o.cfg.BufferSize)
		o.buffers[feed] = b
	}
	return b
}

// IngestUpdate validates one raw update and, if it survives, appends it to
// feed's rolling window. It is the single writer for that feed's buffer;
// call it only from the feed's own ingest path.
func (o *Orchestrator) IngestUpdate(feed domain.FeedId, update domain.PriceUpdate) {
	result := o.validator.Validate(update)
	if !result.IsValid {
		if o.failover != nil {
			o.failover.RecordError(update.Source, domain.NewError(domain.KindValidationFailure, "orchestrator.IngestUpdate", domain.ErrValidationFailure))
		}
		return
	}
	if o.failover != nil {
		o.failover.RecordSuccess(update.Source)
	}
	o.bufferFor(feed).append(result.Resolved(update))
}

// RecentMedian implements validator.RecentMedianFunc: it reports the median
// price and contributing sources currently buffered for symbol, across all
// registered feeds whose Name matches (category-independent, since the
// validator only knows the raw symbol string).
func (o *Orchestrator) RecentMedian(symbol string) (float64, []string, bool) {
	o.mu.Lock()
	var prices []float64
	var sources []string
	for feed, buf := range o.buffers {
		if feed.Name != symbol {
			continue
		}
		for _, u := range buf.snapshot() {
			prices = append(prices, u.Price)
			sources = append(sources, u.Source)
		}
	}
	o.mu.Unlock()

	if len(prices) == 0 {
		return 0, nil, false
	}
	sort.Float64s(prices)
	mid := len(prices) / 2
	var median float64
	if len(prices)%2 == 0 {
		median = (prices[mid-1] + prices[mid]) / 2
	} else {
		median = prices[mid]
	}
	return median, sources, true
}

// Tick re-aggregates every feed whose buffer is non-empty and writes the
// result into the cache's current view. Feeds that currently fail
// aggregation (e.g. too few surviving sources) are skipped for this tick and
// retried on the next one; this is the periodic half of the feed pipeline
// the reactive ingest path alone cannot guarantee (a feed with no fresh
// arrivals still needs its staleness re-evaluated).
func (o *Orchestrator) Tick() {
	now := time.Now()

	o.mu.Lock()
	feeds := make([]domain.FeedId, 0, len(o.buffers))
	for f := range o.buffers {
		feeds = append(feeds, f)
	}
	o.mu.Unlock()

	for _, feed := range feeds {
		snapshot := o.bufferFor(feed).snapshot()
		if len(snapshot) == 0 {
			continue
		}

		aggregated, err := aggregator.Aggregate(feed.Name, snapshot, o.aggCfg, now)
		if err != nil {
			o.log.Debug().Stringer("feed", feed).Err(err).Msg("aggregation skipped this tick")
			continue
		}

		o.cache.SetPrice(feed, aggregated, o.cfg.CurrentTTL)
	}
}

// Run starts the periodic aggregation loop. It blocks until ctx is
// cancelled or Close is called.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.doneCh)
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.Tick()
		}
	}
}

// Close stops the aggregation loop. Idempotent.
func (o *Orchestrator) Close() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
	})
	<-o.doneCh
}

// Query reads feed's current aggregated price from the cache. On a miss, it
// triggers an opportunistic warm and reports not-found; callers decide their
// own edge mapping for that signal.
func (o *Orchestrator) Query(feed domain.FeedId) (domain.AggregatedPrice, bool) {
	o.accessEvents.Publish(feed)
	if o.warmer != nil {
		o.warmer.TrackFeedAccess(feed)
	}

	v, ok := o.cache.GetPrice(feed)
	if !ok {
		return domain.AggregatedPrice{}, false
	}
	ap, ok := v.(domain.AggregatedPrice)
	return ap, ok
}

// QueryVotingRound reads feed's immutable snapshot for round from the cache.
func (o *Orchestrator) QueryVotingRound(feed domain.FeedId, round domain.VotingRound) (domain.AggregatedPrice, bool) {
	v, ok := o.cache.GetForVotingRound(feed, round)
	if !ok {
		return domain.AggregatedPrice{}, false
	}
	ap, ok := v.(domain.AggregatedPrice)
	return ap, ok
}

// SnapshotVotingRound freezes feed's current aggregated price (if any) as
// round's immutable snapshot. A no-op if round already has a snapshot or
// there is no current value to freeze.
func (o *Orchestrator) SnapshotVotingRound(feed domain.FeedId, round domain.VotingRound) bool {
	v, ok := o.cache.GetPrice(feed)
	if !ok {
		return false
	}
	round64 := round
	o.cache.SetForVotingRound(feed, round64, v)
	return true
}

// InvalidateVotingRounds clears feed's round snapshots, e.g. when upstream
// signals the canonical price has definitively changed outside the normal
// tick cadence.
func (o *Orchestrator) InvalidateVotingRounds(feed domain.FeedId) {
	o.cache.InvalidateOnPriceUpdate(feed)
}

// Volume sums the volume of feed's buffered updates that reported one and
// fall within window of now, returning false if the feed has no buffer yet.
func (o *Orchestrator) Volume(feed domain.FeedId, window time.Duration, now time.Time) (float64, bool) {
	o.mu.Lock()
	buf, ok := o.buffers[feed]
	o.mu.Unlock()
	if !ok {
		return 0, false
	}

	var total float64
	for _, u := range buf.snapshot() {
		if !u.HasVolume {
			continue
		}
		if u.Freshness(now) > window {
			continue
		}
		total += u.Volume
	}
	return total, true
}
