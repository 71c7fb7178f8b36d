package cache

import (
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

// entry is the stored value for both the current-view and round-view
// namespaces; round entries carry a zero expiresAt (no TTL).
type entry struct {
	value       any
	expiresAt   time.Time // zero means "does not expire"
	createdAt   time.Time
	accessCount int64
	lastAccess  time.Time

	isRound bool
	feed    domain.FeedId
	round   domain.VotingRound
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// shardCount is the number of stripes the key space is partitioned across:
// map-level striped locking, so each entry mutation is O(1) under its own
// stripe lock rather than one lock for the whole cache.
const shardCount = 16

// shard owns one LRU partition of the global key space behind its own lock,
// so a mutation in one stripe never blocks a reader in another.
type shard struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	onEvict func(key string, e *entry)
}

func newShard(capacity int, onEvict func(key string, e *entry)) *shard {
	if capacity < 1 {
		capacity = 1
	}
	s := &shard{onEvict: onEvict}
	// NewWithEvict's callback fires synchronously from within Add while the
	// caller already holds s.mu, so onEvict here must never reacquire it.
	c, _ := lru.NewWithEvict[string, *entry](capacity, func(key string, value *entry) {
		if s.onEvict != nil {
			s.onEvict(key, value)
		}
	})
	s.entries = c
	return s
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
