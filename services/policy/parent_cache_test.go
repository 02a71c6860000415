package policy

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func contactKey() ParentKey {
	return ParentKey{Type: "contact", ID: uuid.New()}
}

func TestParentCache_GetSet(t *testing.T) {
	cache := NewParentCache(10, 5*time.Minute)
	key := contactKey()
	tenantID := uuid.New()

	_, ok := cache.Get(key)
	assert.False(t, ok)

	cache.Set(key, tenantID)
	got, ok := cache.Get(key)
	assert.True(t, ok)
	assert.Equal(t, tenantID, got)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestParentCache_IgnoresNilTenant(t *testing.T) {
	cache := NewParentCache(10, time.Minute)
	key := contactKey()

	cache.Set(key, uuid.Nil)
	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestParentCache_TTLExpiration(t *testing.T) {
	cache := NewParentCache(10, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	key := contactKey()
	cache.Set(key, uuid.New())

	now = now.Add(2 * time.Minute)
	_, ok := cache.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestParentCache_LRUEviction(t *testing.T) {
	cache := NewParentCache(3, 5*time.Minute)

	keys := make([]ParentKey, 4)
	for i := range keys {
		keys[i] = contactKey()
		cache.Set(keys[i], uuid.New())
		if i == 2 {
			// Touch the oldest so keys[1] becomes least recently used
			cache.Get(keys[0])
		}
	}

	assert.Equal(t, 3, cache.Stats().Size)
	_, ok := cache.Get(keys[1])
	assert.False(t, ok)
	for _, i := range []int{0, 2, 3} {
		_, ok := cache.Get(keys[i])
		assert.True(t, ok, i)
	}
}

func TestParentCache_Invalidate(t *testing.T) {
	cache := NewParentCache(10, 5*time.Minute)
	tenantA := uuid.New()
	tenantB := uuid.New()

	k1, k2, k3 := contactKey(), contactKey(), contactKey()
	cache.Set(k1, tenantA)
	cache.Set(k2, tenantA)
	cache.Set(k3, tenantB)

	cache.Invalidate(k1)
	_, ok := cache.Get(k1)
	assert.False(t, ok)

	cache.InvalidateTenant(tenantA)
	_, ok = cache.Get(k2)
	assert.False(t, ok)
	_, ok = cache.Get(k3)
	assert.True(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestParentCache_CleanupExpired(t *testing.T) {
	cache := NewParentCache(10, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cache.Set(contactKey(), uuid.New())
	}
	now = now.Add(time.Hour)

	assert.Equal(t, 3, cache.CleanupExpired())
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestParentCache_ConcurrentAccess(t *testing.T) {
	cache := NewParentCache(100, 5*time.Minute)
	key := contactKey()
	tenantID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Set(key, tenantID)
				cache.Get(key)
			}
		}()
	}
	wg.Wait()

	got, ok := cache.Get(key)
	assert.True(t, ok)
	assert.Equal(t, tenantID, got)
}
