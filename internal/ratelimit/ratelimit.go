package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/amishk599/jobpipe/internal/model"
)

// SourceRateLimiter enforces a minimum delay between requests to the same
// source kind (every Greenhouse board shares one budget).
type SourceRateLimiter struct {
	mu        sync.Mutex
	lastCall  map[string]time.Time
	minDelay  time.Duration
	overrides map[string]time.Duration
}

// NewSourceRateLimiter creates a limiter that enforces minDelay between
// consecutive requests to the same kind. overrides replaces minDelay per kind.
func NewSourceRateLimiter(minDelay time.Duration, overrides map[string]time.Duration) *SourceRateLimiter {
	return &SourceRateLimiter{
		lastCall:  make(map[string]time.Time),
		minDelay:  minDelay,
		overrides: overrides,
	}
}

func (r *SourceRateLimiter) delayFor(kind string) time.Duration {
	if d, ok := r.overrides[kind]; ok {
		return d
	}
	return r.minDelay
}

// Wait blocks until enough time has passed since the last request to kind.
// The slot is reserved before sleeping so concurrent callers queue up.
func (r *SourceRateLimiter) Wait(ctx context.Context, kind string) error {
	r.mu.Lock()
	now := time.Now()
	next := now
	if last, ok := r.lastCall[kind]; ok {
		if earliest := last.Add(r.delayFor(kind)); earliest.After(now) {
			next = earliest
		}
	}
	r.lastCall[kind] = next
	r.mu.Unlock()

	remaining := next.Sub(now)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", kind, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// RateLimitedFetcher is a decorator that waits on the shared source limiter
// before delegating to the wrapped fetcher.
type RateLimitedFetcher struct {
	inner   model.SourceFetcher
	limiter *SourceRateLimiter
	kind    string
}

// NewRateLimitedFetcher wraps a SourceFetcher with source-level rate limiting.
// All fetchers of the same kind should share one limiter.
func NewRateLimitedFetcher(inner model.SourceFetcher, limiter *SourceRateLimiter, kind string) *RateLimitedFetcher {
	return &RateLimitedFetcher{inner: inner, limiter: limiter, kind: kind}
}

// FetchPayloads waits for the limiter, then delegates.
func (f *RateLimitedFetcher) FetchPayloads(ctx context.Context) ([]model.Payload, error) {
	if err := f.limiter.Wait(ctx, f.kind); err != nil {
		return nil, err
	}
	return f.inner.FetchPayloads(ctx)
}

// ProviderLimiter is a token bucket per LLM provider. Classification runs
// concurrently, so a plain minimum delay is not enough.
type ProviderLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewProviderLimiter allows rps requests per second per provider.
func NewProviderLimiter(rps float64, burst int) *ProviderLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ProviderLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Wait blocks until provider may be called again.
func (p *ProviderLimiter) Wait(ctx context.Context, provider string) error {
	p.mu.Lock()
	l, ok := p.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.rps), p.burst)
		p.limiters[provider] = l
	}
	p.mu.Unlock()

	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("provider limiter wait for %s: %w", provider, err)
	}
	return nil
}
