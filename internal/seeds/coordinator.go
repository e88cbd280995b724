// Package seeds fans one query out to every configured seed and collects
// whatever each of them could answer.
package seeds

import (
	"context"
	"errors"
	"time"

	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/metrics"
	"github.com/gustycube/podwatch/internal/prpc"
	"github.com/gustycube/podwatch/internal/retry"
	"github.com/gustycube/podwatch/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var ErrNoSeeds = errors.New("seeds: no seed endpoints configured")

// Fetcher returns the pods one seed knows about, the method that produced
// them and that call's round trip.
type Fetcher interface {
	FetchPods(ctx context.Context, seed string) (prpc.Fetch, error)
}

// Observation is a pod as reported by a specific seed.
type Observation struct {
	prpc.Pod
	Seed      string
	SeedIndex int
	RoundTrip time.Duration
}

// Result is the outcome of querying one seed.
type Result struct {
	Seed     string
	Index    int
	Pods     []Observation
	Method   string
	Attempts int
	Latency  time.Duration
	Err      error
}

// OK reports whether the seed answered.
func (r Result) OK() bool { return r.Err == nil }

// Coordinator queries seeds in parallel with independent retries.
type Coordinator struct {
	fetcher Fetcher
	seeds   []string
	timeout time.Duration
	policy  retry.Policy
	log     *logging.Logger
}

// NewCoordinator validates the seed list. timeout bounds each attempt.
func NewCoordinator(f Fetcher, seedList []string, timeout time.Duration, policy retry.Policy, log *logging.Logger) (*Coordinator, error) {
	if len(seedList) == 0 {
		return nil, ErrNoSeeds
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Coordinator{
		fetcher: f,
		seeds:   append([]string(nil), seedList...),
		timeout: timeout,
		policy:  policy,
		log:     log,
	}, nil
}

// Seeds returns the configured seeds in priority order.
func (c *Coordinator) Seeds() []string { return append([]string(nil), c.seeds...) }

// Query asks every seed concurrently and waits for all of them to settle.
// Results are in configured seed order; failed seeds carry Err and no pods.
// Query itself never fails.
func (c *Coordinator) Query(ctx context.Context) []Result {
	results := make([]Result, len(c.seeds))

	var g errgroup.Group
	for i, seed := range c.seeds {
		g.Go(func() error {
			results[i] = c.querySeed(ctx, i, seed)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Coordinator) querySeed(ctx context.Context, idx int, seed string) Result {
	ctx, span := telemetry.Tracer().Start(ctx, "seeds.query")
	span.SetAttributes(attribute.String("seed", seed))
	defer span.End()

	res := Result{Seed: seed, Index: idx}
	err := c.policy.Do(ctx, func(attempt int) error {
		res.Attempts = attempt

		actx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		f, err := c.fetcher.FetchPods(actx, seed)
		metrics.SeedLatency.WithLabelValues(seed).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.SeedAttempts.WithLabelValues(seed, "", "error").Inc()
			return err
		}
		metrics.SeedAttempts.WithLabelValues(seed, f.Method, "ok").Inc()

		rtt := f.Elapsed
		if rtt <= 0 {
			rtt = time.Since(start)
		}
		res.Method = f.Method
		res.Latency = rtt
		res.Pods = make([]Observation, len(f.Pods))
		for i, p := range f.Pods {
			res.Pods[i] = Observation{Pod: p, Seed: seed, SeedIndex: idx, RoundTrip: rtt}
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		c.log.Debugw("seed query failed, retrying", "seed", seed, "attempt", attempt, "next", next, "err", err)
	})

	span.SetAttributes(attribute.Int("attempts", res.Attempts))
	if err != nil {
		res.Err = err
		res.Pods = nil
		span.RecordError(err)
		span.SetStatus(codes.Error, "seed unavailable")
		metrics.SeedQueries.WithLabelValues(seed, "failed").Inc()
		c.log.Warnw("seed excluded from pass", "seed", seed, "attempts", res.Attempts, "err", err)
		return res
	}

	span.SetAttributes(attribute.Int("pods", len(res.Pods)), attribute.String("method", res.Method))
	metrics.SeedQueries.WithLabelValues(seed, "ok").Inc()
	return res
}

// Succeeded filters results down to the seeds that answered.
func Succeeded(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}
