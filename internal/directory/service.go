// Package directory answers reads over the aggregated pod set through the
// result cache.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gustycube/podwatch/internal/aggregate"
	"github.com/gustycube/podwatch/internal/cache"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/model"
	"github.com/gustycube/podwatch/internal/persist"
)

var (
	ErrNotFound        = errors.New("directory: node not found")
	ErrInvalidArgument = errors.New("directory: invalid argument")
)

const (
	DefaultHistoryDays = 7
	MaxHistoryDays     = 365
)

// Aggregator runs one aggregation pass. *aggregate.Pipeline implements it.
type Aggregator interface {
	Run(ctx context.Context) *aggregate.Pass
}

// TTLs per cached dataset.
type TTLs struct {
	Nodes   time.Duration
	Stats   time.Duration
	History time.Duration
	Geo     time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Nodes:   300 * time.Second,
		Stats:   60 * time.Second,
		History: 3600 * time.Second,
		Geo:     300 * time.Second,
	}
}

type Options struct {
	TTLs TTLs
	// DBFallback serves the last persisted records when a pass finds no pods.
	DBFallback bool
}

type Service struct {
	agg        Aggregator
	cache      *cache.Layer
	store      persist.Store
	ttl        TTLs
	dbFallback bool
	log        *logging.Logger
	now        func() time.Time
}

// New wires the service. store may be nil.
func New(agg Aggregator, layer *cache.Layer, store persist.Store, opts Options, log *logging.Logger) *Service {
	if store == nil {
		store = persist.Nop{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	def := DefaultTTLs()
	ttl := opts.TTLs
	if ttl.Nodes <= 0 {
		ttl.Nodes = def.Nodes
	}
	if ttl.Stats <= 0 {
		ttl.Stats = def.Stats
	}
	if ttl.History <= 0 {
		ttl.History = def.History
	}
	if ttl.Geo <= 0 {
		ttl.Geo = def.Geo
	}
	return &Service{
		agg:        agg,
		cache:      layer,
		store:      store,
		ttl:        ttl,
		dbFallback: opts.DBFallback,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// snapshot is the full record set, cached under cache.KeyNodes. The slice
// may be shared with other callers and must not be modified.
func (s *Service) snapshot(ctx context.Context) ([]model.NodeRecord, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.KeyNodes, s.ttl.Nodes, func(ctx context.Context) ([]model.NodeRecord, error) {
		pass := s.agg.Run(ctx)
		if len(pass.Records) > 0 || !s.dbFallback || persist.IsNop(s.store) {
			return pass.Records, nil
		}
		recs, err := s.store.ListNodes(ctx)
		if err != nil {
			s.log.Warnw("database fallback failed", "pass", pass.ID, "err", err)
			return pass.Records, nil
		}
		s.log.Infow("serving persisted records, no seed returned pods", "pass", pass.ID, "records", len(recs))
		return recs, nil
	})
}

// Nodes returns one page of the directory matching f.
func (s *Service) Nodes(ctx context.Context, f Filter) (NodePage, error) {
	if f.Page < 0 || f.Page > MaxPage {
		return NodePage{}, fmt.Errorf("%w: page must be between 0 and %d", ErrInvalidArgument, MaxPage)
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return NodePage{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, MaxLimit)
	}
	if f.Status != "" && f.Status != model.StatusActive && f.Status != model.StatusInactive {
		return NodePage{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, f.Status)
	}

	all, err := s.snapshot(ctx)
	if err != nil {
		return NodePage{}, err
	}
	return paginate(all, f), nil
}

// Node returns the record with the given pubkey.
func (s *Service) Node(ctx context.Context, id string) (model.NodeRecord, error) {
	if id == "" {
		return model.NodeRecord{}, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	all, err := s.snapshot(ctx)
	if err != nil {
		return model.NodeRecord{}, err
	}
	for _, r := range all {
		if r.ID == id {
			return r, nil
		}
	}
	return model.NodeRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Leaderboard ranks the directory by sortBy (default xdnScore) and returns
// the first limit rows.
func (s *Service) Leaderboard(ctx context.Context, sortBy string, limit int) ([]model.RankedNode, error) {
	if sortBy == "" {
		sortBy = "xdnScore"
	}
	if _, ok := sortKeys[sortBy]; !ok {
		return nil, fmt.Errorf("%w: sortBy must be one of %v", ErrInvalidArgument, SortKeys())
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, MaxLimit)
	}

	return cache.GetOrCompute(ctx, s.cache, cache.LeaderboardKey(sortBy, limit), s.ttl.Nodes, func(ctx context.Context) ([]model.RankedNode, error) {
		all, err := s.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return rank(all, sortBy, limit), nil
	})
}

// Refresh drops every cached directory view. The next read recomputes from
// the seeds.
func (s *Service) Refresh(ctx context.Context) int {
	n := s.cache.DeletePattern(ctx, cache.RefreshPatterns...)
	s.log.Infow("directory cache cleared", "keys", n)
	return n
}

// Stats summarises the current directory.
func (s *Service) Stats(ctx context.Context) (model.NetworkStats, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.KeyStats, s.ttl.Stats, func(ctx context.Context) (model.NetworkStats, error) {
		start := time.Now()
		all, err := s.snapshot(ctx)
		if err != nil {
			return model.NetworkStats{}, err
		}
		return computeStats(all, time.Since(start), s.now()), nil
	})
}

// Heatmap groups the directory by country.
func (s *Service) Heatmap(ctx context.Context) (Heatmap, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.KeyHeatmap, s.ttl.Geo, func(ctx context.Context) (Heatmap, error) {
		all, err := s.snapshot(ctx)
		if err != nil {
			return Heatmap{}, err
		}
		return computeHeatmap(all, s.now()), nil
	})
}

// History is a pod's persisted series.
type History struct {
	PodID  string               `json:"pnodeId"`
	Period string               `json:"period"`
	Points []model.HistoryPoint `json:"history"`
	Count  int                  `json:"count"`
}

// History returns the points recorded for id over the last days days
// (default 7). Without a database the series is empty.
func (s *Service) History(ctx context.Context, id string, days int) (History, error) {
	if id == "" {
		return History{}, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	if days == 0 {
		days = DefaultHistoryDays
	}
	if days < 1 || days > MaxHistoryDays {
		return History{}, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidArgument, MaxHistoryDays)
	}

	h, err := cache.GetOrCompute(ctx, s.cache, cache.HistoryKey(id, days), s.ttl.History, func(ctx context.Context) (History, error) {
		since := s.now().AddDate(0, 0, -days)
		points, err := s.store.History(ctx, id, since)
		if err != nil {
			return History{}, fmt.Errorf("%w: %w", errHistoryUnavailable, err)
		}
		return newHistory(id, days, points), nil
	})
	if errors.Is(err, errHistoryUnavailable) {
		// Store failures never reach readers; the empty series is not cached.
		s.log.Warnw("history read failed, serving empty series", "pod", id, "days", days, "err", err)
		return newHistory(id, days, nil), nil
	}
	return h, err
}

var errHistoryUnavailable = errors.New("history store unavailable")

func newHistory(id string, days int, points []model.HistoryPoint) History {
	if points == nil {
		points = []model.HistoryPoint{}
	}
	return History{
		PodID:  id,
		Period: fmt.Sprintf("%d days", days),
		Points: points,
		Count:  len(points),
	}
}
