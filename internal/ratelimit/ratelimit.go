// Package ratelimit provides fixed-window request rate limiting per
// client key and endpoint category. Counters live in a shared Redis
// store when configured so that every replica sees the same window;
// when the store is unreachable the limiter degrades to an in-process
// map rather than failing the request. Rate limiting here is defense in
// depth, not the primary authorization boundary, so infrastructure
// failures fail open.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/inmova/gatekeeper/internal/circuitbreaker"
	"github.com/inmova/gatekeeper/internal/metrics"
)

// Category selects which window policy applies to an endpoint.
type Category string

const (
	CategoryAuth    Category = "auth"
	CategoryPayment Category = "payment"
	CategoryAPI     Category = "api"
	CategoryRead    Category = "read"
	CategoryAdmin   Category = "admin"
)

// Policy is a window duration with a request ceiling.
type Policy struct {
	Window      time.Duration
	MaxRequests int64
}

var policies = map[Category]Policy{
	CategoryAuth:    {Window: 5 * time.Minute, MaxRequests: 10},
	CategoryPayment: {Window: time.Minute, MaxRequests: 50},
	CategoryAPI:     {Window: time.Minute, MaxRequests: 100},
	CategoryRead:    {Window: time.Minute, MaxRequests: 200},
	CategoryAdmin:   {Window: time.Minute, MaxRequests: 500},
}

// PolicyFor returns the window policy for a category. Unknown
// categories get the general API policy.
func PolicyFor(c Category) Policy {
	if p, ok := policies[c]; ok {
		return p
	}
	return policies[CategoryAPI]
}

// Decision is the outcome of a rate-limit check. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter admits or denies requests against per-(key, category)
// windows. A shared store is preferred; the local store serves as the
// documented weaker fallback when the shared store errors or its
// breaker is open.
type Limiter struct {
	shared  Store
	local   *InMemoryStore
	breaker *circuitbreaker.Breaker
}

// New builds a limiter. shared may be nil, in which case every check
// uses the in-process store and limits are per-replica.
func New(shared Store) *Limiter {
	return &Limiter{
		shared:  shared,
		local:   NewInMemoryStore(),
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

// Allow consumes one request from the window for (clientKey, category).
// It never returns an error: a failing shared store falls back to the
// in-process counter and the failure is logged and counted.
func (l *Limiter) Allow(ctx context.Context, clientKey string, category Category) Decision {
	policy := PolicyFor(category)
	key := "ratelimit:" + string(category) + ":" + clientKey

	count, resetAt, err := l.increment(ctx, key, policy.Window)
	if err != nil {
		// Shared store down: serve from the local map. Same interface,
		// same thresholds, per-process consistency only.
		metrics.RecordStoreFallback()
		slog.Warn("rate-limit store unavailable, using in-process counters",
			"category", category,
			"error", err,
		)
		count, resetAt, _ = l.local.Increment(ctx, key, policy.Window)
	}

	remaining := policy.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= policy.MaxRequests,
		Limit:     policy.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = time.Until(resetAt)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d
}

func (l *Limiter) increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	if l.shared == nil {
		return l.local.Increment(ctx, key, window)
	}

	if !l.breaker.Allow() {
		return l.local.Increment(ctx, key, window)
	}

	count, resetAt, err := l.shared.Increment(ctx, key, window)
	if err != nil {
		l.breaker.RecordFailure()
		return 0, time.Time{}, err
	}

	l.breaker.RecordSuccess()
	return count, resetAt, nil
}

// StartSweeper drops expired in-process windows every interval until
// ctx is cancelled, bounding fallback memory on long-lived processes.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.local.Sweep()
			}
		}
	}()
}

// StoreState reports the breaker state for health reporting.
func (l *Limiter) StoreState() string {
	if l.shared == nil {
		return "in-memory"
	}
	return l.breaker.State().String()
}
