// Package cache implements a dual-namespace in-memory store holding a
// short-TTL current price view and an immutable per-voting-round snapshot
// view.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

// MaxCurrentTTL is the hard clamp on any current-view entry's lifetime.
const MaxCurrentTTL = 1000 * time.Millisecond

// Config holds the cache's tunables.
type Config struct {
	MaxEntries    int
	SweepInterval time.Duration
}

// DefaultConfig returns the cache's default tunables.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    100_000,
		SweepInterval: 500 * time.Millisecond,
	}
}

// Stats reports the cache's aggregate counters.
type Stats struct {
	Hits        int64
	Misses      int64
	HitRate     float64
	Entries     int64
	MemoryUsage int64
	Evictions   int64
}

// Cache is the real-time price store. Safe for concurrent use.
type Cache struct {
	shards [shardCount]*shard

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	roundIndexMu sync.Mutex
	roundIndex   map[domain.FeedId]map[domain.VotingRound]bool

	log zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Cache and starts its background expiry sweep. Call Close
// to stop the sweep during shutdown.
func New(cfg Config, log zerolog.Logger) *Cache {
	if cfg.MaxEntries < shardCount {
		cfg.MaxEntries = shardCount
	}
	perShard := cfg.MaxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache{
		roundIndex: make(map[domain.FeedId]map[domain.VotingRound]bool),
		log:        log.With().Str("component", "cache").Logger(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	for i := range c.shards {
		c.shards[i] = newShard(perShard, c.handleEviction)
	}

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	go c.sweepLoop(interval)

	return c
}

// Close stops the background sweep goroutine. Idempotent.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[shardIndex(key)]
}

// handleEviction runs (synchronously, shard-lock held) whenever the
// underlying LRU evicts an entry to stay within capacity.
func (c *Cache) handleEviction(key string, e *entry) {
	c.evictions.Add(1)
	if e.isRound {
		c.untrackRound(e.feed, e.round)
	}
}

// SetPrice stores value in the current-price namespace for feed. The
// effective TTL is clamped to MaxCurrentTTL regardless of requestedTTL.
func (c *Cache) SetPrice(feed domain.FeedId, value any, requestedTTL time.Duration) {
	ttl := requestedTTL
	if ttl > MaxCurrentTTL || ttl <= 0 {
		ttl = MaxCurrentTTL
	}

	now := time.Now()
	key := feed.CurrentKey()
	s := c.shardFor(key)

	s.mu.Lock()
	s.entries.Add(key, &entry{
		value:      value,
		expiresAt:  now.Add(ttl),
		createdAt:  now,
		lastAccess: now,
	})
	s.mu.Unlock()
}

// GetPrice returns the current-price entry for feed if present and not
// expired, recording a hit or miss.
func (c *Cache) GetPrice(feed domain.FeedId) (any, bool) {
	key := feed.CurrentKey()
	s := c.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	e, ok := s.entries.Get(key)
	if ok && e.expired(now) {
		s.entries.Remove(key)
		ok = false
	}
	if ok {
		e.accessCount++
		e.lastAccess = now
	}
	s.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// SetForVotingRound writes an immutable snapshot for (feed, round). A round
// entry is written at most once: if one already exists, the call is a no-op,
// preserving immutability even against a misbehaving caller.
func (c *Cache) SetForVotingRound(feed domain.FeedId, round domain.VotingRound, value any) {
	key := feed.RoundKey(round)
	s := c.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	if s.entries.Contains(key) {
		s.mu.Unlock()
		return
	}
	s.entries.Add(key, &entry{
		value:      value,
		createdAt:  now,
		lastAccess: now,
		isRound:    true,
		feed:       feed,
		round:      round,
	})
	s.mu.Unlock()

	c.trackRound(feed, round)
}

// GetForVotingRound returns the immutable snapshot for (feed, round), or
// false if none has been written (or it has since been invalidated/evicted).
func (c *Cache) GetForVotingRound(feed domain.FeedId, round domain.VotingRound) (any, bool) {
	key := feed.RoundKey(round)
	s := c.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	e, ok := s.entries.Get(key)
	if ok {
		e.accessCount++
		e.lastAccess = now
	}
	s.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// InvalidateOnPriceUpdate clears every round entry for feed. It never
// touches feed's current entry, and never touches any other feed's entries.
func (c *Cache) InvalidateOnPriceUpdate(feed domain.FeedId) {
	c.roundIndexMu.Lock()
	rounds := c.roundIndex[feed]
	delete(c.roundIndex, feed)
	c.roundIndexMu.Unlock()

	for round := range rounds {
		key := feed.RoundKey(round)
		s := c.shardFor(key)
		s.mu.Lock()
		s.entries.Remove(key)
		s.mu.Unlock()
	}
}

func (c *Cache) trackRound(feed domain.FeedId, round domain.VotingRound) {
	c.roundIndexMu.Lock()
	defer c.roundIndexMu.Unlock()
	rounds, ok := c.roundIndex[feed]
	if !ok {
		rounds = make(map[domain.VotingRound]bool)
		c.roundIndex[feed] = rounds
	}
	rounds[round] = true
}

func (c *Cache) untrackRound(feed domain.FeedId, round domain.VotingRound) {
	c.roundIndexMu.Lock()
	defer c.roundIndexMu.Unlock()
	if rounds, ok := c.roundIndex[feed]; ok {
		delete(rounds, round)
		if len(rounds) == 0 {
			delete(c.roundIndex, feed)
		}
	}
}

// CurrentEntryStatus reports whether feed has a live current-view entry and,
// if so, when it expires. Used by the cache warmer to decide whether a hot
// feed needs proactive repopulation; does not affect hit/miss stats.
func (c *Cache) CurrentEntryStatus(feed domain.FeedId) (bool, time.Time) {
	key := feed.CurrentKey()
	s := c.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Peek(key)
	if !ok || e.expired(now) {
		return false, time.Time{}
	}
	return true, e.expiresAt
}

// WriteCurrent stores value into the current view with the given TTL,
// clamped the same way SetPrice is. Exposed separately so the warmer can
// repopulate the cache without going through the public SetPrice name.
func (c *Cache) WriteCurrent(feed domain.FeedId, value any, ttl time.Duration) {
	c.SetPrice(feed, value, ttl)
}

// GetStats reports the cache's aggregate counters.
func (c *Cache) GetStats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var entries int64
	for _, s := range c.shards {
		s.mu.Lock()
		entries += int64(s.entries.Len())
		s.mu.Unlock()
	}

	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		HitRate:     hitRate,
		Entries:     entries,
		MemoryUsage: entries * estimatedBytesPerEntry,
		Evictions:   c.evictions.Load(),
	}
}

// estimatedBytesPerEntry is a coarse proxy for per-entry memory footprint.
// A monotone response to cache growth matters here, not an exact figure.
const estimatedBytesPerEntry = 256

func (c *Cache) sweepLoop(interval time.Duration) {
	defer close(c.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	for _, s := range c.shards {
		s.mu.Lock()
		for _, key := range s.entries.Keys() {
			e, ok := s.entries.Peek(key)
			if ok && e.expired(now) {
				s.entries.Remove(key)
			}
		}
		s.mu.Unlock()
	}
}
