package resilience

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Cache is a process-local get-or-compute TTL cache. Losing an entry
// never affects correctness, only adds a datastore round trip.
// Concurrent computes for the same key collapse into one call.
type Cache struct {
	ttl   time.Duration
	store *gocache.Cache
	group singleflight.Group
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		ttl:   ttl,
		store: gocache.New(ttl, 2*ttl),
	}
}

// GetOrCompute returns the cached value for key, computing and storing
// it on a miss. Errors from compute are not cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (any, error)) (any, error) {
	if value, ok := c.store.Get(key); ok {
		return value, nil
	}
	value, err, _ := c.group.Do(key, func() (any, error) {
		if value, ok := c.store.Get(key); ok {
			return value, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store.Set(key, value, c.ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Invalidate drops the entry for key. Mutating components must call it
// before returning so a subsequent read in the same logical operation
// cannot observe stale data.
func (c *Cache) Invalidate(key string) {
	c.store.Delete(key)
}

// InvalidatePrefix drops every entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
		}
	}
}

// GetOrCompute is the typed wrapper around Cache.GetOrCompute.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	value, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}
