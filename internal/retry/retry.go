// Package retry is the one backoff policy shared by seed queries, geo
// provider calls and persistence writes.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how often and how patiently an operation is retried.
// An operation runs at most 1+MaxRetries times. The n-th wait is
// BaseDelay*2^(n-1), capped at MaxDelay, spread by ±Jitter (0..1).
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

// Default is used for seed queries.
func Default() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second}
}

// Notify is called after a failed attempt, before waiting next.
type Notify func(attempt int, err error, next time.Duration)

// Permanent wraps err so that Do stops retrying and returns err.
func Permanent(err error) error { return backoff.Permanent(err) }

// Delay returns the wait before retry number n (1-based), without jitter.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Attempts returns the maximum number of times an operation runs.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return 1 + p.MaxRetries
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
	}
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = 24 * time.Hour
	}
	b.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs fn until it succeeds, returns a Permanent error, the retries are
// used up or ctx is done. fn receives the 1-based attempt number. The
// returned error is the last one fn produced, or ctx.Err() when cancellation
// interrupted a wait.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error, notify Notify) error {
	attempt := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		return fn(attempt)
	}
	var n backoff.Notify
	if notify != nil {
		n = func(err error, next time.Duration) { notify(attempt, err, next) }
	}
	return backoff.RetryNotify(op, p.backOff(ctx), n)
}
