// Package validator implements per-update and batch validation against
// freshness/range/outlier rules, with a short-lived result cache.
package validator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
	"github.com/flarenet/ftso-feed-provider/internal/events"
)

// TrustedMajorityPolicy decides, for an outlier candidate, whether its
// claimed source is part of the "trusted majority" that may override the
// outlier rejection via consensusWeight (open question resolved as:
// pluggable policy). The default policy trusts no one, i.e. outliers are
// always rejected; callers wire in a real policy (e.g. based on historical
// agreement) when they want the override behavior.
type TrustedMajorityPolicy func(source string, recentSources []string) bool

// NeverTrusted is the conservative default TrustedMajorityPolicy.
func NeverTrusted(string, []string) bool { return false }

// RecentMedianFunc returns the recent median price for a symbol, sourced
// from the orchestrator's rolling per-feed update window, and whether any
// history exists yet.
type RecentMedianFunc func(symbol string) (median float64, recentSources []string, ok bool)

// Config holds the validator's rule parameters, all overridable from
// defaults below.
type Config struct {
	MaxAge                    time.Duration
	MinPrice                  float64
	MaxPrice                  float64
	OutlierThreshold          float64
	RealTimeValidationEnabled bool
	BatchValidationEnabled    bool
	ResultCacheTTL            time.Duration
	ResultCacheMaxSize        int
	TrustedMajority           TrustedMajorityPolicy
}

// DefaultConfig returns the validator's default tunables.
func DefaultConfig() Config {
	return Config{
		MaxAge:                    2000 * time.Millisecond,
		MinPrice:                  1e-12,
		MaxPrice:                  1e18,
		OutlierThreshold:          0.05,
		RealTimeValidationEnabled: true,
		BatchValidationEnabled:    true,
		ResultCacheTTL:            1000 * time.Millisecond,
		ResultCacheMaxSize:        10_000,
		TrustedMajority:           NeverTrusted,
	}
}

// Events published by the validator. Non-blocking; subscribe at wiring time.
type Event struct {
	Update    domain.PriceUpdate
	Result    domain.ValidationResult
	EventName string // "validationPassed" | "validationFailed" | "criticalValidationError"
}

// Validator applies the configured rules to incoming ticks.
type Validator struct {
	cfg          Config
	recentMedian RecentMedianFunc
	log          zerolog.Logger

	events *events.Broadcaster[Event]

	cacheMu sync.Mutex
	cache   map[resultKey]cacheEntry
	lru     []resultKey // front = most recently used
}

type resultKey struct {
	source    string
	symbol    string
	timestamp int64
}

type cacheEntry struct {
	result    domain.ValidationResult
	expiresAt time.Time
}

// New constructs a Validator. recentMedian is invoked for outlier checks; a
// nil value disables the outlier rule (treated as "no history yet").
func New(cfg Config, recentMedian RecentMedianFunc, log zerolog.Logger) *Validator {
	if cfg.TrustedMajority == nil {
		cfg.TrustedMajority = NeverTrusted
	}
	return &Validator{
		cfg:          cfg,
		recentMedian: recentMedian,
		log:          log.With().Str("component", "validator").Logger(),
		events:       events.NewBroadcaster[Event](256),
		cache:        make(map[resultKey]cacheEntry, cfg.ResultCacheMaxSize),
	}
}

// Subscribe registers a receiver for validation events.
func (v *Validator) Subscribe() <-chan Event {
	return v.events.Subscribe()
}

// Validate runs the configured rules against one update. If real-time
// validation is disabled, it is a passthrough that reports the input's own
// confidence as valid.
func (v *Validator) Validate(update domain.PriceUpdate) domain.ValidationResult {
	if !v.cfg.RealTimeValidationEnabled {
		return domain.ValidationResult{IsValid: true, Confidence: update.Confidence, Timestamp: time.Now()}
	}

	key := resultKey{source: update.Source, symbol: update.Symbol, timestamp: update.TimestampMs}
	if cached, ok := v.cacheGet(key); ok {
		return cached
	}

	result := v.evaluate(update)
	v.cachePut(key, result)
	v.emit(update, result)
	return result
}

// ValidateBatch applies the rules to a list of updates. If batch validation
// is disabled, it returns an all-valid passthrough preserving each input's
// confidence.
func (v *Validator) ValidateBatch(updates []domain.PriceUpdate) []domain.ValidationResult {
	if !v.cfg.BatchValidationEnabled {
		out := make([]domain.ValidationResult, len(updates))
		for i, u := range updates {
			out[i] = domain.ValidationResult{IsValid: true, Confidence: u.Confidence, Timestamp: time.Now()}
		}
		return out
	}

	out := make([]domain.ValidationResult, len(updates))
	for i, u := range updates {
		out[i] = v.Validate(u)
	}
	return out
}

func (v *Validator) evaluate(update domain.PriceUpdate) domain.ValidationResult {
	now := time.Now()
	var errs []domain.ValidationError
	var warnings []string

	if !update.IsFinitePositivePrice() {
		errs = append(errs, domain.ValidationError{
			Kind: domain.ErrKindBadType, Severity: domain.SeverityCritical,
			Operation: "validate.type", Message: fmt.Sprintf("price %v is not finite and positive", update.Price),
		})
	}
	if update.TimestampMs < 0 {
		errs = append(errs, domain.ValidationError{
			Kind: domain.ErrKindBadType, Severity: domain.SeverityCritical,
			Operation: "validate.type", Message: "timestamp is negative",
		})
	}

	if len(errs) == 0 {
		age := update.Freshness(now)
		if age > v.cfg.MaxAge {
			errs = append(errs, domain.ValidationError{
				Kind: domain.ErrKindStale, Severity: domain.SeverityMedium,
				Operation: "validate.freshness", Message: fmt.Sprintf("age %v exceeds max %v", age, v.cfg.MaxAge),
			})
		}

		if update.Price < v.cfg.MinPrice || update.Price > v.cfg.MaxPrice {
			errs = append(errs, domain.ValidationError{
				Kind: domain.ErrKindOutOfRange, Severity: domain.SeverityHigh,
				Operation: "validate.range", Message: fmt.Sprintf("price %v outside [%v,%v]", update.Price, v.cfg.MinPrice, v.cfg.MaxPrice),
			})
		}

		if v.recentMedian != nil {
			if median, recentSources, ok := v.recentMedian(update.Symbol); ok && median > 0 {
				deviation := math.Abs(update.Price-median) / median
				if deviation > v.cfg.OutlierThreshold {
					overridden := v.cfg.TrustedMajority(update.Source, recentSources)
					if !overridden {
						errs = append(errs, domain.ValidationError{
							Kind: domain.ErrKindOutlier, Severity: domain.SeverityMedium,
							Operation: "validate.outlier",
							Message:   fmt.Sprintf("deviation %.4f exceeds threshold %.4f", deviation, v.cfg.OutlierThreshold),
						})
					} else {
						warnings = append(warnings, "outlier accepted: source in trusted majority")
					}
				}
			}
		}
	}

	result := domain.ValidationResult{
		IsValid:    len(errs) == 0,
		Errors:     errs,
		Warnings:   warnings,
		Confidence: update.Confidence,
		Timestamp:  now,
	}
	if result.IsValid {
		result.AdjustedUpdate = &update
	}
	return result
}

func (v *Validator) emit(update domain.PriceUpdate, result domain.ValidationResult) {
	name := "validationPassed"
	if !result.IsValid {
		name = "validationFailed"
		for _, e := range result.Errors {
			if e.Severity == domain.SeverityCritical {
				name = "criticalValidationError"
				break
			}
		}
	}
	v.events.Publish(Event{Update: update, Result: result, EventName: name})
}

func (v *Validator) cacheGet(key resultKey) (domain.ValidationResult, bool) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()

	entry, ok := v.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		if ok {
			delete(v.cache, key)
		}
		return domain.ValidationResult{}, false
	}
	v.touch(key)
	return entry.result, true
}

func (v *Validator) cachePut(key resultKey, result domain.ValidationResult) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()

	ttl := v.cfg.ResultCacheTTL
	if ttl > time.Second {
		ttl = time.Second
	}

	if _, exists := v.cache[key]; !exists && len(v.cache) >= v.cfg.ResultCacheMaxSize {
		v.evictOldest()
	}

	v.cache[key] = cacheEntry{result: result, expiresAt: time.Now().Add(ttl)}
	v.touch(key)
}

// touch moves key to the front of the LRU list; caller holds cacheMu.
func (v *Validator) touch(key resultKey) {
	for i, k := range v.lru {
		if k == key {
			v.lru = append(v.lru[:i], v.lru[i+1:]...)
			break
		}
	}
	v.lru = append([]resultKey{key}, v.lru...)
}

// evictOldest drops the least-recently-used cache entry; caller holds cacheMu.
func (v *Validator) evictOldest() {
	if len(v.lru) == 0 {
		return
	}
	oldest := v.lru[len(v.lru)-1]
	v.lru = v.lru[:len(v.lru)-1]
	delete(v.cache, oldest)
}
