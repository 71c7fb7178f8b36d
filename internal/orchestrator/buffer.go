package orchestrator

import (
	"sync"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

// updateBuffer is one feed's rolling window of validated updates:
// single writer (the ingest path for this feed), many readers that snapshot
// under a short lock and release before computing.
type updateBuffer struct {
	mu       sync.Mutex
	items    []domain.PriceUpdate
	capacity int
}

func newUpdateBuffer(capacity int) *updateBuffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &updateBuffer{capacity: capacity}
}

func (b *updateBuffer) append(u domain.PriceUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, u)
	if len(b.items) > b.capacity {
		b.items = b.items[len(b.items)-b.capacity:]
	}
}

func (b *updateBuffer) snapshot() []domain.PriceUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.PriceUpdate, len(b.items))
	copy(out, b.items)
	return out
}
