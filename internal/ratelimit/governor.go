// Package ratelimit enforces per-source politeness delays. All delay logic
// lives here; source adapters never sleep on their own.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SourceLimit configures the request cadence for one source.
type SourceLimit struct {
	// MinInterval is the minimum spacing between consecutive permits.
	MinInterval time.Duration

	// JitterMin/JitterMax bound the uniform random delay added after each
	// permit. Jitter keeps the request cadence from being fingerprintable.
	JitterMin time.Duration
	JitterMax time.Duration
}

// Governor gates outbound requests per source. Acquire blocks until the
// source's minimum interval plus jitter has elapsed since the last permit.
// First-come-first-served; it never fails except on context cancellation.
type Governor struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limits   map[string]SourceLimit

	// sleep and rnd are injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	rnd   *rand.Rand
}

// NewGovernor creates a governor with no sources configured. Unknown sources
// acquire immediately.
func NewGovernor() *Governor {
	return &Governor{
		limiters: make(map[string]*rate.Limiter),
		limits:   make(map[string]SourceLimit),
		sleep:    sleepCtx,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSource registers or replaces the limit for a source.
func (g *Governor) SetSource(sourceID string, limit SourceLimit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.limits[sourceID] = limit
	if limit.MinInterval <= 0 {
		g.limiters[sourceID] = rate.NewLimiter(rate.Inf, 1)
		return
	}
	g.limiters[sourceID] = rate.NewLimiter(rate.Every(limit.MinInterval), 1)
}

// Acquire blocks until the source may issue its next request.
func (g *Governor) Acquire(ctx context.Context, sourceID string) error {
	g.mu.Lock()
	limiter, ok := g.limiters[sourceID]
	limit := g.limits[sourceID]
	g.mu.Unlock()

	if !ok {
		return ctx.Err()
	}
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if j := g.jitter(limit); j > 0 {
		return g.sleep(ctx, j)
	}
	return nil
}

func (g *Governor) jitter(limit SourceLimit) time.Duration {
	if limit.JitterMax <= limit.JitterMin {
		return limit.JitterMin
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	span := int64(limit.JitterMax - limit.JitterMin)
	return limit.JitterMin + time.Duration(g.rnd.Int63n(span))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
