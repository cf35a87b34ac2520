package feed

import (
	"context"
	"sync"
	"time"

	"dealerchat/internal/domain"
)

const DefaultTTL = 300 * time.Second

// Source produces a fresh snapshot on every call.
type Source interface {
	FetchSnapshot(ctx context.Context) (domain.CatalogSnapshot, error)
}

// Cache holds the single most recent snapshot. The freshness check and any
// refetch happen under one lock, so concurrent misses are serialized and a
// reader never sees a timestamp paired with another fetch's listings.
type Cache struct {
	src Source
	ttl time.Duration

	mu   sync.Mutex
	snap *domain.CatalogSnapshot
}

func NewCache(src Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{src: src, ttl: ttl}
}

// GetSnapshot returns the cached snapshot while now-FetchedAt < ttl, otherwise
// refetches. A failed refetch keeps the stale snapshot and returns the error.
func (c *Cache) GetSnapshot(ctx context.Context, now time.Time) (domain.CatalogSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap != nil && now.Sub(c.snap.FetchedAt) < c.ttl {
		return *c.snap, nil
	}

	fresh, err := c.src.FetchSnapshot(ctx)
	if err != nil {
		return domain.CatalogSnapshot{}, err
	}
	fresh.FetchedAt = now
	c.snap = &fresh
	return fresh, nil
}
