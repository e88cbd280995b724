// Package cache is the short-lived result cache in front of aggregation.
// Every store failure degrades to a miss; callers never see cache errors.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Key namespaces shared by the directory and the admin tooling.
const (
	KeyNodes     = "pnodes:all"
	KeyStats     = "dashboard:stats"
	KeyHeatmap   = "network:heatmap"
	DefaultTTL   = 300 * time.Second
	storeTimeout = 2 * time.Second
)

// RefreshPatterns are removed by a forced refresh.
var RefreshPatterns = []string{"pnodes:*", "pnode:*", "leaderboard:*", "dashboard:*", "network:*"}

// LeaderboardKey names a cached leaderboard.
func LeaderboardKey(sortBy string, limit int) string {
	return fmt.Sprintf("leaderboard:%s:%d", sortBy, limit)
}

// HistoryKey names a cached history series.
func HistoryKey(id string, days int) string {
	return fmt.Sprintf("pnode:%s:history:%dd", id, days)
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Layer adds JSON envelopes, error swallowing and miss collapsing on top
// of a Store.
type Layer struct {
	store Store
	group singleflight.Group
	log   *logging.Logger
	now   func() time.Time
}

func NewLayer(store Store, log *logging.Logger) *Layer {
	if log == nil {
		log = logging.NewNop()
	}
	return &Layer{store: store, log: log, now: time.Now}
}

// Store returns the backend.
func (l *Layer) Store() Store { return l.store }

func storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

// Get decodes the cached value for key into dest and reports a hit.
func (l *Layer) Get(ctx context.Context, key string, dest any) bool {
	sctx, cancel := storeCtx(ctx)
	defer cancel()

	raw, ok, err := l.store.Get(sctx, key)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		l.log.Warnw("cache get failed", "key", key, "err", err)
		ok = false
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		metrics.CacheErrors.WithLabelValues("decode").Inc()
		l.log.Warnw("cache entry undecodable", "key", key, "err", err)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		metrics.CacheErrors.WithLabelValues("decode").Inc()
		l.log.Warnw("cache entry undecodable", "key", key, "err", err)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return true
}

// Set stores value under key for ttl. Failures are logged and dropped.
func (l *Layer) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("encode").Inc()
		l.log.Warnw("cache value not encodable", "key", key, "err", err)
		return
	}
	raw, err := json.Marshal(envelope{Data: data, Timestamp: l.now().UnixMilli()})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("encode").Inc()
		return
	}

	sctx, cancel := storeCtx(ctx)
	defer cancel()
	if err := l.store.Set(sctx, key, raw, ttl); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		l.log.Warnw("cache set failed", "key", key, "err", err)
	}
}

// Delete removes keys.
func (l *Layer) Delete(ctx context.Context, keys ...string) {
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	if err := l.store.Delete(sctx, keys...); err != nil {
		metrics.CacheErrors.WithLabelValues("delete").Inc()
		l.log.Warnw("cache delete failed", "keys", keys, "err", err)
	}
}

// DeletePattern removes every key matching any of patterns and returns the
// number removed.
func (l *Layer) DeletePattern(ctx context.Context, patterns ...string) int {
	total := 0
	for _, p := range patterns {
		sctx, cancel := storeCtx(ctx)
		n, err := l.store.DeletePattern(sctx, p)
		cancel()
		total += n
		if err != nil {
			metrics.CacheErrors.WithLabelValues("delete_pattern").Inc()
			l.log.Warnw("cache pattern delete failed", "pattern", p, "err", err)
		}
	}
	return total
}

// GetOrCompute returns the cached value for key, or runs fn, caches its
// result for ttl and returns it. Concurrent misses on one key share a single
// fn call. fn runs detached from the caller's cancellation; a caller whose
// ctx ends stops waiting and gets ctx.Err(). Errors from fn are returned
// and not cached.
func GetOrCompute[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if l.Get(ctx, key, &out) {
		return out, nil
	}

	ch := l.group.DoChan(key, func() (any, error) {
		cctx := context.WithoutCancel(ctx)
		v, err := fn(cctx)
		if err != nil {
			return v, err
		}
		l.Set(cctx, key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			var zero T
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}
