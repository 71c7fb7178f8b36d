// Package domain holds the shared value types that flow through the
// ingest -> validate -> aggregate -> cache pipeline.
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Category tags the asset class a feed belongs to.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryCrypto
	CategoryForex
	CategoryCommodity
	CategoryStock
)

// ParseCategory maps a config/API category name to its Category value,
// case-insensitively. Unrecognized names yield CategoryUnknown and false.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(s) {
	case "crypto":
		return CategoryCrypto, true
	case "forex":
		return CategoryForex, true
	case "commodity":
		return CategoryCommodity, true
	case "stock":
		return CategoryStock, true
	default:
		return CategoryUnknown, false
	}
}

func (c Category) String() string {
	switch c {
	case CategoryCrypto:
		return "Crypto"
	case CategoryForex:
		return "Forex"
	case CategoryCommodity:
		return "Commodity"
	case CategoryStock:
		return "Stock"
	default:
		return "Unknown"
	}
}

// symbolPattern enforces BASE/QUOTE with both sides in [A-Z0-9]{2,}.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,}/[A-Z0-9]{2,}$`)

// FeedId identifies a named time series of prices. It is immutable and
// compared by value, so it is safe to use as a map key.
type FeedId struct {
	Category Category
	Name     string
}

// NewFeedId validates name against the canonical BASE/QUOTE form before
// constructing a FeedId.
func NewFeedId(category Category, name string) (FeedId, error) {
	if !symbolPattern.MatchString(name) {
		return FeedId{}, fmt.Errorf("invalid canonical symbol %q: %w", name, ErrInvalidSymbol)
	}
	return FeedId{Category: category, Name: name}, nil
}

// Base returns the base asset of the feed's symbol, e.g. "BTC" for "BTC/USD".
func (f FeedId) Base() string {
	parts := strings.SplitN(f.Name, "/", 2)
	if len(parts) != 2 {
		return f.Name
	}
	return parts[0]
}

// Quote returns the quote asset of the feed's symbol, e.g. "USD" for "BTC/USD".
func (f FeedId) Quote() string {
	parts := strings.SplitN(f.Name, "/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func (f FeedId) String() string {
	return fmt.Sprintf("%s:%s", f.Category, f.Name)
}

// CurrentKey is the cache key for the feed's current-price namespace.
func (f FeedId) CurrentKey() string {
	return "current:" + f.String()
}

// RoundKey is the cache key for one voting round's snapshot of this feed.
func (f FeedId) RoundKey(round VotingRound) string {
	return fmt.Sprintf("round:%s:%d", f.String(), round)
}

// RoundPrefix is the shared key prefix for all round entries of this feed:
// every RoundKey of the feed starts with it.
func (f FeedId) RoundPrefix() string {
	return fmt.Sprintf("round:%s:", f.String())
}

// VotingRound identifies a consensus-protocol round. Always non-negative.
type VotingRound uint64
