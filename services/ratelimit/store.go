package ratelimit

import (
	"context"
	"time"
)

// HitResult is the state of a bucket after one check-and-increment
type HitResult struct {
	// Admitted is true when the hit was counted against the bucket
	Admitted bool
	// Count is the number of admitted hits inside the window, including this one if admitted
	Count int
	// Oldest is the timestamp of the oldest admitted hit still inside the window
	Oldest time.Time
	// Now is the clock reading the store stamped the hit with
	Now time.Time
}

// CounterStore is an atomic sliding-window log keyed by bucket.
//
// Hit must, as one atomic step visible to every service instance sharing the store:
// drop entries at or before now-window, admit the hit if fewer than limit remain,
// and report the resulting count. Rejected hits are not recorded.
type CounterStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (HitResult, error)
}
