package persist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/metrics"
	"github.com/gustycube/podwatch/internal/model"
	"github.com/gustycube/podwatch/internal/retry"
)

// Batch is the output of one aggregation pass.
type Batch struct {
	PassID     string
	ObservedAt time.Time
	Records    []model.NodeRecord
}

// History derives one history point per record.
func (b Batch) History() []model.HistoryPoint {
	points := make([]model.HistoryPoint, len(b.Records))
	for i, r := range b.Records {
		points[i] = model.HistoryPoint{
			PodID:       r.ID,
			PassID:      b.PassID,
			Timestamp:   b.ObservedAt,
			Uptime:      r.Uptime,
			Latency:     r.Latency,
			StorageUsed: r.StorageUsed,
			Rewards:     r.Rewards,
			XDNScore:    r.XDNScore,
		}
	}
	return points
}

// Syncer drains a bounded queue of batches into a Store.
type Syncer struct {
	store      Store
	queue      chan Batch
	policy     retry.Policy
	maxElapsed time.Duration
	log        *logging.Logger

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewSyncer creates a syncer holding up to size pending batches. Each
// batch write is retried under policy for at most maxElapsed.
func NewSyncer(store Store, size int, policy retry.Policy, maxElapsed time.Duration, log *logging.Logger) *Syncer {
	if size < 1 {
		size = 64
	}
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Syncer{
		store:      store,
		queue:      make(chan Batch, size),
		policy:     policy,
		maxElapsed: maxElapsed,
		log:        log,
	}
}

// Submit enqueues b without blocking. It reports false when the queue is
// full and the batch was dropped.
func (s *Syncer) Submit(b Batch) bool {
	if IsNop(s.store) || len(b.Records) == 0 {
		return true
	}
	select {
	case s.queue <- b:
		metrics.PersistQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		s.dropped.Add(1)
		metrics.PersistBatches.WithLabelValues("dropped").Inc()
		s.log.Warnw("persist queue full, dropping batch", "pass", b.PassID, "records", len(b.Records))
		return false
	}
}

// Depth is the number of queued batches.
func (s *Syncer) Depth() int { return len(s.queue) }

// Capacity is the queue bound.
func (s *Syncer) Capacity() int { return cap(s.queue) }

// Stats returns written, failed and dropped batch counts.
func (s *Syncer) Stats() (written, failed, dropped int64) {
	return s.written.Load(), s.failed.Load(), s.dropped.Load()
}

// Run writes batches until ctx is cancelled, then drains what is already
// queued within drainTimeout.
func (s *Syncer) Run(ctx context.Context, drainTimeout time.Duration) {
	for {
		select {
		case b := <-s.queue:
			// A batch taken off the queue is finished even if shutdown
			// starts mid-write; maxElapsed still bounds it.
			s.write(context.WithoutCancel(ctx), b)
		case <-ctx.Done():
			s.drain(drainTimeout)
			return
		}
	}
}

func (s *Syncer) drain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		select {
		case b := <-s.queue:
			s.write(ctx, b)
		default:
			return
		}
	}
}

func (s *Syncer) write(ctx context.Context, b Batch) {
	metrics.PersistQueueDepth.Set(float64(len(s.queue)))

	wctx, cancel := context.WithTimeout(ctx, s.maxElapsed)
	defer cancel()

	history := b.History()
	err := s.policy.Do(wctx, func(int) error {
		return s.store.UpsertNodes(wctx, b.Records)
	}, func(attempt int, err error, next time.Duration) {
		s.log.Debugw("persist upsert failed, retrying", "pass", b.PassID, "attempt", attempt, "err", err)
	})
	if err == nil {
		err = s.policy.Do(wctx, func(int) error {
			return s.store.AppendHistory(wctx, history)
		}, nil)
	}

	if err != nil {
		s.failed.Add(1)
		metrics.PersistBatches.WithLabelValues("failed").Inc()
		s.log.Errorw("persist batch failed", "pass", b.PassID, "records", len(b.Records), "err", err)
		return
	}
	s.written.Add(1)
	metrics.PersistBatches.WithLabelValues("ok").Inc()
	s.log.Debugw("persisted batch", "pass", b.PassID, "records", len(b.Records))
}
