// Package warmer tracks per-feed access frequency with an exponential
// moving rate, and proactively repopulates hot cache entries through a
// caller-supplied fetch callback.
package warmer

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/events"
)

// CacheProbe is the subset of the real-time cache the warmer needs to decide
// whether a feed is worth warming. Accepting an interface here (rather than
// importing internal/cache directly) keeps the dependency pointed the
// idiomatic way: the cache doesn't need to know about the warmer.
type CacheProbe interface {
	// CurrentEntryStatus reports whether feed has a live current-view entry
	// and, if so, when it expires.
	CurrentEntryStatus(feed domain.FeedId) (exists bool, expiresAt time.Time)
	// WriteCurrent stores a freshly fetched value into the current view with
	// the given TTL.
	WriteCurrent(feed domain.FeedId, value any, ttl time.Duration)
}

// DataSourceCallback fetches a fresh value for feed, invoked asynchronously
// by the warmer when a feed is deemed hot.
type DataSourceCallback func(ctx context.Context, feed domain.FeedId) (any, error)

// AccessPattern tracks one feed's access history.
type AccessPattern struct {
	Feed        domain.FeedId
	AccessCount int64
	LastAccess  time.Time
	// Rate is the exponential moving access rate: accesses-per-window,
	// halving every Config.DecayHalfLife when unaccessed.
	Rate float64
}

// Config holds the warmer's tunables.
type Config struct {
	DecayHalfLife time.Duration
	WarmThreshold float64
	RefreshMargin time.Duration
	WriteTTL      time.Duration
	FetchTimeout  time.Duration
}

// DefaultConfig returns the warmer's default tunables.
func DefaultConfig() Config {
	return Config{
		DecayHalfLife: 300 * time.Second,
		WarmThreshold: 1.0,
		RefreshMargin: 200 * time.Millisecond,
		WriteTTL:      1000 * time.Millisecond,
		FetchTimeout:  2 * time.Second,
	}
}

// ErrorEvent is published when a warm attempt fails.
type ErrorEvent struct {
	Feed domain.FeedId
	Err  error
}

// Warmer tracks access patterns and drives proactive cache repopulation.
type Warmer struct {
	cfg      Config
	cache    CacheProbe
	fetch    DataSourceCallback
	log      zerolog.Logger
	flight   singleflight.Group
	errEvents *events.Broadcaster[ErrorEvent]

	mu       sync.Mutex
	patterns map[domain.FeedId]*AccessPattern
}

// New constructs a Warmer. cache and fetch must be non-nil.
func New(cfg Config, cache CacheProbe, fetch DataSourceCallback, log zerolog.Logger) *Warmer {
	return &Warmer{
		cfg:       cfg,
		cache:     cache,
		fetch:     fetch,
		log:       log.With().Str("component", "warmer").Logger(),
		errEvents: events.NewBroadcaster[ErrorEvent](64),
		patterns:  make(map[domain.FeedId]*AccessPattern),
	}
}

// Subscribe registers a receiver for warmer-error events.
func (w *Warmer) Subscribe() <-chan ErrorEvent {
	return w.errEvents.Subscribe()
}

// TrackFeedAccess records one access to feed and, if its moving rate has
// crossed the warming threshold and the cache entry is absent or close to
// expiry, schedules an asynchronous warm. Never blocks or returns an error
// to the caller.
func (w *Warmer) TrackFeedAccess(feed domain.FeedId) {
	now := time.Now()

	w.mu.Lock()
	p, ok := w.patterns[feed]
	if !ok {
		p = &AccessPattern{Feed: feed, LastAccess: now}
		w.patterns[feed] = p
	}

	lambda := math.Ln2 / w.cfg.DecayHalfLife.Seconds()
	elapsed := now.Sub(p.LastAccess).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	p.Rate = p.Rate*math.Exp(-lambda*elapsed) + 1
	p.AccessCount++
	p.LastAccess = now
	rate := p.Rate
	w.mu.Unlock()

	if rate < w.cfg.WarmThreshold {
		return
	}

	exists, expiresAt := w.cache.CurrentEntryStatus(feed)
	needsWarm := !exists || time.Until(expiresAt) <= w.cfg.RefreshMargin
	if !needsWarm {
		return
	}

	w.scheduleWarm(feed)
}

// scheduleWarm admits at most one in-flight warm per feed (single-flight by
// a per-FeedId latch via golang.org/x/sync/singleflight) and runs it
// asynchronously so TrackFeedAccess never blocks.
func (w *Warmer) scheduleWarm(feed domain.FeedId) {
	go func() {
		_, err, _ := w.flight.Do(feed.String(), func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FetchTimeout)
			defer cancel()
			value, ferr := w.fetch(ctx, feed)
			if ferr != nil {
				return nil, ferr
			}
			w.cache.WriteCurrent(feed, value, w.cfg.WriteTTL)
			return value, nil
		})
		if err != nil {
			w.log.Warn().Err(err).Stringer("feed", feed).Msg("warm failed")
			w.errEvents.Publish(ErrorEvent{Feed: feed, Err: err})
		}
	}()
}

// TopFeed is one entry in GetWarmupStats's ranked list.
type TopFeed struct {
	Feed        domain.FeedId
	AccessCount int64
}

// WarmupStats summarizes the warmer's current state.
type WarmupStats struct {
	TotalPatterns int
	TopFeeds      []TopFeed
	Strategies    []string
}

// GetWarmupStats reports the tracked access patterns, ranked by access
// count, and the warming strategies in effect.
func (w *Warmer) GetWarmupStats() WarmupStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	top := make([]TopFeed, 0, len(w.patterns))
	for feed, p := range w.patterns {
		top = append(top, TopFeed{Feed: feed, AccessCount: p.AccessCount})
	}
	sort.Slice(top, func(i, j int) bool { return top[i].AccessCount > top[j].AccessCount })
	if len(top) > 10 {
		top = top[:10]
	}

	return WarmupStats{
		TotalPatterns: len(w.patterns),
		TopFeeds:      top,
		Strategies:    []string{"frequency-ema"},
	}
}
