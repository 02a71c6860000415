package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memorySweepEvery is how many hits pass between sweeps of idle buckets
const memorySweepEvery = 1024

// MemoryStore keeps the window log in process memory.
//
// Known limitation: counters are not shared between service instances, so with N
// instances a tenant can reach N times its threshold. Use it for local runs and tests only.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	hits    int
}

type memoryBucket struct {
	entries []time.Time
	window  time.Duration
}

// idle reports whether every entry has left the window at now
func (b *memoryBucket) idle(now time.Time) bool {
	return len(b.entries) == 0 || !b.entries[len(b.entries)-1].After(now.Add(-b.window))
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*memoryBucket)}
}

// Hit implements CounterStore
func (s *MemoryStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (HitResult, error) {
	if err := ctx.Err(); err != nil {
		return HitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits++
	if s.hits%memorySweepEvery == 0 {
		s.sweep(now)
	}

	cutoff := now.Add(-window)
	var kept []time.Time
	if b, ok := s.buckets[key]; ok {
		kept = b.entries[:0]
		for _, ts := range b.entries {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
	}

	res := HitResult{Now: now}
	if len(kept) < limit {
		kept = append(kept, now)
		res.Admitted = true
	}

	if len(kept) == 0 {
		delete(s.buckets, key)
	} else {
		s.buckets[key] = &memoryBucket{entries: kept, window: window}
	}

	res.Count = len(kept)
	if len(kept) > 0 {
		res.Oldest = kept[0]
	}
	return res, nil
}

// Sweep drops every bucket whose entries have all expired at now
func (s *MemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(now)
}

func (s *MemoryStore) sweep(now time.Time) {
	for key, b := range s.buckets {
		if b.idle(now) {
			delete(s.buckets, key)
		}
	}
}

// Len returns the number of tracked buckets
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
