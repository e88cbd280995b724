// Package app wires configuration into the aggregation pipeline shared by
// the server and the admin tool.
package app

import (
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/gustycube/podwatch/internal/aggregate"
	"github.com/gustycube/podwatch/internal/circuitbreaker"
	"github.com/gustycube/podwatch/internal/config"
	"github.com/gustycube/podwatch/internal/dedup"
	"github.com/gustycube/podwatch/internal/geo"
	"github.com/gustycube/podwatch/internal/httpclient"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/metrics"
	"github.com/gustycube/podwatch/internal/prpc"
	"github.com/gustycube/podwatch/internal/rate"
	"github.com/gustycube/podwatch/internal/seeds"
)

// BuildPipeline wires seeds, geo enrichment and scoring from cfg. Records
// of every pass are handed to sink, then onPass (if set) sees the pass.
func BuildPipeline(cfg *config.Config, sink aggregate.Sink, onPass func(*aggregate.Pass), log *logging.Logger) (*aggregate.Pipeline, error) {
	hc := httpclient.Default()

	bcfg := circuitbreaker.DefaultConfig()
	bcfg.OnStateChange = func(name string, from, to gobreaker.State) {
		metrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		log.Warnw("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
	}
	rc := httpclient.NewResilientClient(hc, circuitbreaker.NewRegistry(bcfg))

	var locCache geo.Cache = geo.NewMemoryCache()
	if cfg.GeoCacheSize > 0 {
		lc, err := geo.NewLRUCache(cfg.GeoCacheSize)
		if err != nil {
			return nil, fmt.Errorf("geo cache: %w", err)
		}
		locCache = lc
	}

	enricher := geo.NewEnricher(geo.DefaultProviders(rc), locCache, geo.Options{
		ProviderTimeout: cfg.GeoTimeout(),
		OverallTimeout:  cfg.GeoOverallTimeout(),
		NegativeTTL:     cfg.GeoNegativeTTL(),
		Limiter:         rate.New(cfg.GeoRatePerSec, 1),
	}, log)

	coord, err := seeds.NewCoordinator(prpc.New(hc, cfg.PRPCPort), cfg.Seeds, cfg.SeedTimeout(), cfg.SeedRetryPolicy(), log)
	if err != nil {
		return nil, err
	}

	policy, err := dedup.ParsePolicy(cfg.MergePolicy)
	if err != nil {
		return nil, err
	}
	units := make(map[string]aggregate.UptimeUnit, len(cfg.SeedUptimeUnits))
	for seed, u := range cfg.SeedUptimeUnits {
		unit, err := aggregate.ParseUptimeUnit(u)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", seed, err)
		}
		units[seed] = unit
	}

	return aggregate.New(coord, enricher, sink, aggregate.Options{
		MergePolicy:  policy,
		Concurrency:  cfg.EnrichWorker,
		UptimeUnits:  units,
		UptimeWindow: cfg.UptimeWindow(),
		OnPass:       onPass,
	}, log), nil
}
