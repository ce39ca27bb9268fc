package auth

import (
	"context"
	"sync"
	"time"

	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

type cacheEntry struct {
	record     models.AuthRecord
	insertedAt time.Time
}

// Cache stores recently validated credentials with TTL expiry. Expiry is
// evaluated on every read against the injected clock, so correctness never
// depends on the background sweep having run.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a credential cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the cache's clock. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns a copy of the cached record if present and not expired.
func (c *Cache) Get(credential string) (*models.AuthRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[credential]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) >= c.ttl {
		return nil, false
	}

	record := entry.record
	return &record, true
}

// Put stores or overwrites the entry for the credential.
func (c *Cache) Put(credential string, record *models.AuthRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[credential] = cacheEntry{record: *record, insertedAt: c.now()}
}

// Invalidate removes the entry for the credential. Called when a downstream
// 401 reveals that a cached "valid" record was revoked.
func (c *Cache) Invalidate(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, credential)
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes all expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.RLock()
	var expired []string
	for credential, entry := range c.entries {
		if c.now().Sub(entry.insertedAt) >= c.ttl {
			expired = append(expired, credential)
		}
	}
	c.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	removed := 0
	for _, credential := range expired {
		// Lock per entry so a large sweep never starves request traffic.
		c.mu.Lock()
		if entry, ok := c.entries[credential]; ok && c.now().Sub(entry.insertedAt) >= c.ttl {
			delete(c.entries, credential)
			removed++
		}
		c.mu.Unlock()
	}
	return removed
}

// RunSweeper sweeps on the given interval until the context is canceled.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
