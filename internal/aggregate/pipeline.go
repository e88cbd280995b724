// Package aggregate runs one aggregation pass: query seeds, merge by
// pubkey, enrich with location, score, and hand the records to persistence.
package aggregate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/gustycube/podwatch/internal/dedup"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/metrics"
	"github.com/gustycube/podwatch/internal/model"
	"github.com/gustycube/podwatch/internal/persist"
	"github.com/gustycube/podwatch/internal/seeds"
	"github.com/gustycube/podwatch/internal/telemetry"
)

// Querier fans out to the seeds. *seeds.Coordinator implements it.
type Querier interface {
	Query(ctx context.Context) []seeds.Result
}

// Locator resolves an address to a location and never fails.
// *geo.Enricher implements it.
type Locator interface {
	Lookup(ctx context.Context, addr string) model.Location
}

// Sink receives finished passes without blocking. *persist.Syncer
// implements it.
type Sink interface {
	Submit(b persist.Batch) bool
}

type Options struct {
	MergePolicy  dedup.Policy
	Concurrency  int                   // enrich workers, default 16
	UptimeUnits  map[string]UptimeUnit // per seed, default seconds
	UptimeWindow time.Duration         // default 7 days
	OnPass       func(*Pass)           // called after every pass, may be nil
}

// Pass is the outcome of one run.
type Pass struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Records  []model.NodeRecord
	Seeds    []seeds.Result
	Merge    dedup.Stats
}

// SeedsOK counts seeds that answered.
func (p *Pass) SeedsOK() int { return len(seeds.Succeeded(p.Seeds)) }

// FailedSeeds lists the seeds that did not answer, in configured order.
func (p *Pass) FailedSeeds() []string {
	var out []string
	for _, r := range p.Seeds {
		if !r.OK() {
			out = append(out, r.Seed)
		}
	}
	return out
}

type Pipeline struct {
	seeds   Querier
	geo     Locator
	sink    Sink
	opts    Options
	log     *logging.Logger
	now     func() time.Time
	newPass func() string
}

// New builds a pipeline. sink may be nil.
func New(q Querier, loc Locator, sink Sink, opts Options, log *logging.Logger) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 16
	}
	if opts.UptimeWindow <= 0 {
		opts.UptimeWindow = DefaultUptimeWindow
	}
	if opts.MergePolicy == "" {
		opts.MergePolicy = dedup.PolicyFirst
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Pipeline{
		seeds:   q,
		geo:     loc,
		sink:    sink,
		opts:    opts,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		newPass: uuid.NewString,
	}
}

// Run executes one pass. It never fails: unreachable seeds are left out
// and a pass where every seed failed yields no records.
func (p *Pipeline) Run(ctx context.Context) *Pass {
	pass := &Pass{ID: p.newPass(), Started: p.now()}

	ctx, span := telemetry.Tracer().Start(ctx, "aggregate.pass")
	span.SetAttributes(attribute.String("pass", pass.ID))
	defer span.End()

	pass.Seeds = p.seeds.Query(ctx)
	obs, st := dedup.Merge(pass.Seeds, p.opts.MergePolicy)
	pass.Merge = st
	metrics.DuplicatesDropped.Add(float64(st.Duplicates))

	pass.Records = p.build(ctx, obs, pass.Started)
	pass.Duration = time.Since(pass.Started)

	metrics.AggregationDuration.Observe(pass.Duration.Seconds())
	metrics.PodsAggregated.Set(float64(len(pass.Records)))
	span.SetAttributes(
		attribute.Int("seeds_ok", pass.SeedsOK()),
		attribute.Int("pods", len(pass.Records)),
		attribute.Int("duplicates", st.Duplicates),
	)

	p.log.Infow("aggregation pass complete",
		"pass", pass.ID,
		"seeds", len(pass.Seeds),
		"seeds_ok", pass.SeedsOK(),
		"observations", st.Observations,
		"pods", len(pass.Records),
		"duplicates", st.Duplicates,
		"duration", pass.Duration,
	)

	if p.sink != nil && len(pass.Records) > 0 {
		p.sink.Submit(persist.Batch{PassID: pass.ID, ObservedAt: pass.Started, Records: pass.Records})
	}
	if p.opts.OnPass != nil {
		p.opts.OnPass(pass)
	}
	return pass
}

func (p *Pipeline) build(ctx context.Context, obs []seeds.Observation, now time.Time) []model.NodeRecord {
	records := make([]model.NodeRecord, len(obs))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, o := range obs {
		g.Go(func() error {
			loc := model.UnknownLocation()
			if p.geo != nil {
				loc = p.geo.Lookup(ctx, o.Address)
			}
			records[i] = BuildRecord(o, loc, p.unit(o.Seed), p.opts.UptimeWindow, now)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (p *Pipeline) unit(seed string) UptimeUnit {
	if u, ok := p.opts.UptimeUnits[seed]; ok && u != "" {
		return u
	}
	return UptimeSeconds
}
