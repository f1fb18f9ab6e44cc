package cache

import (
	"sync"
	"time"

	"github.com/nutrimap/resolver/internal/domain"
)

// resultItem pairs a resolved record with its expiry.
type resultItem struct {
	record     *domain.ResultRecord
	expiration time.Time
}

// ResultCache is a thread-safe in-memory cache of resolved ingredients with
// TTL, used by the HTTP API so repeated lookups of the same ingredient do not
// re-run the pipeline.
type ResultCache struct {
	data  map[string]resultItem
	ttl   time.Duration
	mutex sync.RWMutex
}

// NewResultCache creates a result cache. Expired entries are swept every
// ten minutes.
func NewResultCache(ttl time.Duration) *ResultCache {
	cache := &ResultCache{
		data: make(map[string]resultItem),
		ttl:  ttl,
	}
	go cache.cleanupExpired()
	return cache
}

// Get returns the cached record for an ingredient, if present and fresh.
func (c *ResultCache) Get(ingredient string) (*domain.ResultRecord, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, ok := c.data[normalizeKey(ingredient)]
	if !ok || time.Now().After(item.expiration) {
		return nil, false
	}
	return item.record, true
}

// Set stores a resolved record.
func (c *ResultCache) Set(ingredient string, record *domain.ResultRecord) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[normalizeKey(ingredient)] = resultItem{
		record:     record,
		expiration: time.Now().Add(c.ttl),
	}
}

// Size returns the current number of cached records.
func (c *ResultCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// Clear drops all cached records.
func (c *ResultCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data = make(map[string]resultItem)
}

func (c *ResultCache) cleanupExpired() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mutex.Lock()
		now := time.Now()
		for key, item := range c.data {
			if now.After(item.expiration) {
				delete(c.data, key)
			}
		}
		c.mutex.Unlock()
	}
}
