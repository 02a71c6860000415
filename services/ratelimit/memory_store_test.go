package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SlidingWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		res, err := s.Hit(ctx, "k", 2, time.Minute, start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, res.Admitted)
	}

	res, err := s.Hit(ctx, "k", 2, time.Minute, start.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, start, res.Oldest)

	// The first entry has left the window
	res, err = s.Hit(ctx, "k", 2, time.Minute, start.Add(time.Minute+500*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, 2, res.Count)
}

func TestMemoryStore_DropsEmptyBuckets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	res, err := s.Hit(ctx, "zero", 0, time.Minute, now)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, 0, s.Len())

	_, err = s.Hit(ctx, "a", 5, time.Minute, now)
	require.NoError(t, err)
	_, err = s.Hit(ctx, "b", 5, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	s.Sweep(now.Add(2 * time.Minute))
	assert.Equal(t, 1, s.Len(), "only the bucket still inside its window survives")

	s.Sweep(now.Add(2 * time.Hour))
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_SweepsIdleBucketsWhileHit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < memorySweepEvery-1; i++ {
		_, err := s.Hit(ctx, fmt.Sprintf("scope-%d", i), 10, time.Second, start)
		require.NoError(t, err)
	}
	assert.Equal(t, memorySweepEvery-1, s.Len())

	// This hit triggers a sweep; every earlier bucket has expired by then
	_, err := s.Hit(ctx, "late", 10, time.Second, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().Hit(ctx, "k", 1, time.Minute, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
