package policy

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ParentKey identifies a parent record whose owning tenant is cached
type ParentKey struct {
	Type string
	ID   uuid.UUID
}

// String returns a string representation of the cache key
func (k ParentKey) String() string {
	return k.Type + ":" + k.ID.String()
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	key        ParentKey
	tenantID   uuid.UUID
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.insertedAt) > ttl
}

// ParentCache is an in-memory LRU cache with TTL mapping parent records to their tenant.
// Caching is sound because a record's tenant_id never changes after creation; the TTL
// only bounds memory held for deleted parents.
type ParentCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry // Key: ParentKey.String()
	lruList *list.List             // Doubly linked list for LRU tracking
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewParentCache creates a new ParentCache with specified max size and TTL
func NewParentCache(maxSize int, ttl time.Duration) *ParentCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &ParentCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached tenant for a parent record
func (c *ParentCache) Get(key ParentKey) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()
	entry, exists := c.entries[keyStr]

	if !exists || entry.isExpired(c.now(), c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(keyStr)
		}
		return uuid.Nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.tenantID, true
}

// Set stores the tenant owning a parent record
func (c *ParentCache) Set(key ParentKey, tenantID uuid.UUID) {
	if tenantID == uuid.Nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := key.String()

	if entry, exists := c.entries[keyStr]; exists {
		entry.tenantID = tenantID
		entry.insertedAt = c.now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		key:        key,
		tenantID:   tenantID,
		insertedAt: c.now(),
	}
	entry.element = c.lruList.PushFront(keyStr)
	c.entries[keyStr] = entry
}

// Invalidate removes a parent, typically after it is deleted
func (c *ParentCache) Invalidate(key ParentKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(key.String())
}

// InvalidateTenant removes all entries owned by a tenant
func (c *ParentCache) InvalidateTenant(tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		if entry.tenantID == tenantID {
			c.removeEntry(keyStr)
		}
	}
}

// Clear removes all entries from the cache
func (c *ParentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns cache statistics
func (c *ParentCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *ParentCache) removeEntry(keyStr string) {
	if entry, exists := c.entries[keyStr]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, keyStr)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *ParentCache) evictLRU() {
	if back := c.lruList.Back(); back != nil {
		keyStr := back.Value.(string)
		c.lruList.Remove(back)
		delete(c.entries, keyStr)
	}
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *ParentCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for keyStr, entry := range c.entries {
		if entry.isExpired(now, c.ttl) {
			c.removeEntry(keyStr)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired entries until stopCh is closed
func (c *ParentCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
