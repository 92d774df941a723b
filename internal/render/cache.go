package render

import (
	"context"
	"sync"
	"time"
)

// AssetCache keeps loaded assets in memory so a batch downloads the background
// and logos once instead of once per row.
type AssetCache struct {
	loader  AssetLoader
	data    map[string]*cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
	cleanup *time.Ticker
	done    chan struct{}
	now     func() time.Time

	hits   int64
	misses int64
}

type cacheEntry struct {
	asset      *Asset
	expiration time.Time
}

// Invalidator is implemented by loaders that keep assets in memory.
type Invalidator interface {
	Invalidate(key string)
}

// CacheStats reports cache usage.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// NewAssetCache wraps loader with a TTL cache. Call Stop to release the
// cleanup goroutine.
func NewAssetCache(loader AssetLoader, ttl time.Duration) *AssetCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &AssetCache{
		loader:  loader,
		data:    make(map[string]*cacheEntry),
		ttl:     ttl,
		cleanup: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	go c.cleanupLoop()

	return c
}

// Load returns the cached asset or loads and stores it. Failures are not cached.
func (c *AssetCache) Load(ctx context.Context, key string) (*Asset, error) {
	if asset, ok := c.get(key); ok {
		return asset, nil
	}

	asset, err := c.loader.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data[key] = &cacheEntry{asset: asset, expiration: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return asset, nil
}

func (c *AssetCache) get(key string) (*Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok || c.now().After(entry.expiration) {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.asset, true
}

// Invalidate drops key, e.g. after a template asset is replaced.
func (c *AssetCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// Stats returns cache statistics.
func (c *AssetCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{Size: len(c.data), Hits: c.hits, Misses: c.misses}
}

func (c *AssetCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanup.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *AssetCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.data {
		if now.After(entry.expiration) {
			delete(c.data, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (c *AssetCache) Stop() {
	c.cleanup.Stop()
	close(c.done)
}
