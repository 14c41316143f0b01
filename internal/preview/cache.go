package preview

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	metadata Metadata
	expires  time.Time
}

// CachingProvider wraps another Provider with a TTL-based in-memory cache.
// Concurrent lookups for the same URL share one call to the base provider.
type CachingProvider struct {
	base Provider
	ttl  time.Duration
	now  func() time.Time

	mu     sync.RWMutex
	items  map[string]cacheEntry
	flight singleflight.Group
}

// NewCachingProvider returns a Provider that caches lookups for the provided TTL.
func NewCachingProvider(base Provider, ttl time.Duration) *CachingProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingProvider{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cacheEntry),
	}
}

// Lookup returns cached metadata when available, otherwise it delegates to the
// underlying provider and stores the result. Errors are not cached.
func (c *CachingProvider) Lookup(ctx context.Context, url string) (Metadata, error) {
	if c == nil || c.base == nil {
		return Metadata{}, ErrProviderUnavailable
	}

	c.mu.RLock()
	entry, ok := c.items[url]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.metadata, nil
	}

	v, err, _ := c.flight.Do(url, func() (any, error) {
		metadata, err := c.base.Lookup(ctx, url)
		if err != nil {
			return Metadata{}, err
		}
		c.mu.Lock()
		c.items[url] = cacheEntry{metadata: metadata, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return metadata, nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return v.(Metadata), nil
}

// Purge drops expired entries and reports how many remain.
func (c *CachingProvider) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, entry := range c.items {
		if !now.Before(entry.expires) {
			delete(c.items, url)
		}
	}
	return len(c.items)
}
