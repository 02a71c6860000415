package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tenantguard/services"
	"go.uber.org/zap"
)

// DefaultStoreTimeout bounds every counter store round trip
const DefaultStoreTimeout = 250 * time.Millisecond

// ClassLimit is the threshold of one route class
type ClassLimit struct {
	Limit  int
	Window time.Duration
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one
func (r Result) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter enforces per (tenant, route class) thresholds over a sliding window
type Limiter struct {
	store   CounterStore
	classes map[string]ClassLimit
	timeout time.Duration
	clock   func() time.Time
	logger  *zap.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the wall clock
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithStoreTimeout overrides DefaultStoreTimeout
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLimiter creates a Limiter. Classes with a non-positive limit or window are rejected.
func NewLimiter(store CounterStore, classes map[string]ClassLimit, logger *zap.Logger, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	copied := make(map[string]ClassLimit, len(classes))
	for name, c := range classes {
		if c.Limit < 1 || c.Window <= 0 {
			return nil, fmt.Errorf("route class %q: limit and window must be positive", name)
		}
		copied[name] = c
	}

	l := &Limiter{
		store:   store,
		classes: copied,
		timeout: DefaultStoreTimeout,
		clock:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Class returns the configured limit for a route class
func (l *Limiter) Class(name string) (ClassLimit, bool) {
	c, ok := l.classes[name]
	return c, ok
}

// CheckAndIncrement counts one request against the bucket of (scope, routeClass).
// scope is the tenant ID, or the principal ID for callers outside any tenant.
//
// A throttled request returns Allowed=false with a nil error. Store failures and
// timeouts also return Allowed=false, together with an error wrapping
// services.ErrStoreUnavailable: the limiter never admits traffic it could not count.
func (l *Limiter) CheckAndIncrement(ctx context.Context, scope uuid.UUID, routeClass string) (Result, error) {
	class, ok := l.classes[routeClass]
	if !ok {
		return Result{}, services.NewDomainError(services.ErrorTypePolicyEvaluation,
			fmt.Sprintf("unknown route class %q", routeClass), nil)
	}
	if scope == uuid.Nil {
		return Result{Limit: class.Limit}, services.ErrTenantScopeMissing
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.clock()
	hit, err := l.store.Hit(storeCtx, BucketKey(scope, routeClass), class.Limit, class.Window, now)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing closed",
			zap.String("route_class", routeClass),
			zap.String("scope", scope.String()),
			zap.Error(err))
		return Result{
			Limit:      class.Limit,
			RetryAfter: time.Second,
			ResetAt:    now.Add(time.Second),
		}, services.NewDomainError(services.ErrorTypeRateLimit, services.ErrStoreUnavailable.Message, err)
	}

	if !hit.Now.IsZero() {
		now = hit.Now
	}

	res := Result{
		Allowed:   hit.Admitted,
		Limit:     class.Limit,
		Remaining: class.Limit - hit.Count,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	// The bucket frees a slot when its oldest entry leaves the window
	oldest := hit.Oldest
	if oldest.IsZero() {
		oldest = now
	}
	res.ResetAt = oldest.Add(class.Window)
	if !res.Allowed {
		res.RetryAfter = res.ResetAt.Sub(now)
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Millisecond
		}
	}
	return res, nil
}

// BucketKey builds the counter key for a scope and route class
func BucketKey(scope uuid.UUID, routeClass string) string {
	return fmt.Sprintf("%s:%s", scope.String(), routeClass)
}
