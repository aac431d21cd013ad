package price

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type cacheEntry struct {
	price     decimal.Decimal
	expiresAt time.Time
}

type priceCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newPriceCache(ttl time.Duration) *priceCache {
	return &priceCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// cacheKey formats: "{asset}@{unix seconds}" e.g. "BTC@1704067200"
func cacheKey(assetID string, at time.Time) string {
	return fmt.Sprintf("%s@%d", assetID, at.Unix())
}

func (c *priceCache) get(key string) (decimal.Decimal, bool) {
	if c.ttl <= 0 {
		return decimal.Decimal{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return decimal.Decimal{}, false
	}
	return entry.price, true
}

func (c *priceCache) set(key string, price decimal.Decimal) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries[key] = cacheEntry{
		price:     price,
		expiresAt: now.Add(c.ttl),
	}
	if len(c.entries) > maxCacheEntries {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
}

const maxCacheEntries = 10000
