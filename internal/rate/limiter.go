// Package rate hands out one token bucket per key (an upstream provider
// name or a host).
package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type PerKey struct {
	mu         sync.Mutex
	m          map[string]*limitEntry
	perSecond  float64
	burst      int
	maxEntries int
}

type limitEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New returns a limiter registry allowing perSecond events per key with the
// given burst. A non-positive perSecond disables limiting.
func New(perSecond float64, burst int) *PerKey {
	if burst < 1 {
		burst = 1
	}
	return &PerKey{
		m:          make(map[string]*limitEntry),
		perSecond:  perSecond,
		burst:      burst,
		maxEntries: 10000,
	}
}

// Enabled reports whether the registry limits anything.
func (p *PerKey) Enabled() bool { return p != nil && p.perSecond > 0 }

func (p *PerKey) entry(key string) *limitEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	e, ok := p.m[key]
	if !ok {
		if len(p.m) >= p.maxEntries {
			p.evictLocked(now.Add(-time.Hour))
		}
		e = &limitEntry{limiter: rate.NewLimiter(rate.Limit(p.perSecond), p.burst)}
		p.m[key] = e
	}
	e.lastUsed = now
	return e
}

func (p *PerKey) evictLocked(cutoff time.Time) {
	for k, e := range p.m {
		if e.lastUsed.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// Allow reports whether an event for key may happen now.
func (p *PerKey) Allow(key string) bool {
	if !p.Enabled() {
		return true
	}
	return p.entry(key).limiter.Allow()
}

// Wait blocks until an event for key is permitted or ctx is done.
func (p *PerKey) Wait(ctx context.Context, key string) error {
	if !p.Enabled() {
		return ctx.Err()
	}
	return p.entry(key).limiter.Wait(ctx)
}
