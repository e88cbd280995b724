// Package geo resolves pod addresses to coarse locations using a chain of
// public geolocation services. Lookups never fail: anything that cannot be
// resolved gets the Unknown sentinel.
package geo

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gustycube/podwatch/internal/circuitbreaker"
	"github.com/gustycube/podwatch/internal/dns"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/metrics"
	"github.com/gustycube/podwatch/internal/model"
	"github.com/gustycube/podwatch/internal/rate"
	"github.com/gustycube/podwatch/internal/retry"
	"github.com/gustycube/podwatch/internal/telemetry"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
)

// Options tune an Enricher. Zero values select the defaults noted.
type Options struct {
	ProviderTimeout time.Duration // 5s per provider attempt
	OverallTimeout  time.Duration // 10s per address
	Retry           *retry.Policy // 2 retries, 500ms then 1s
	NegativeTTL     time.Duration // 10m
	NegativeSize    int           // 4096 hosts
	Limiter         *rate.PerKey  // nil disables provider rate limits
	Resolve         func(ctx context.Context, host string) (net.IP, error)
}

// Enricher resolves addresses through ordered providers.
type Enricher struct {
	providers []Provider
	cache     Cache
	negative  *expirable.LRU[string, struct{}]
	limiter   *rate.PerKey
	resolve   func(ctx context.Context, host string) (net.IP, error)
	policy    retry.Policy

	providerTimeout time.Duration
	overallTimeout  time.Duration

	log *logging.Logger
}

// NewEnricher wires providers (in priority order) to cache. A nil cache
// gets a process-lifetime MemoryCache.
func NewEnricher(providers []Provider, cache Cache, opts Options, log *logging.Logger) *Enricher {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = logging.NewNop()
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 5 * time.Second
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 10 * time.Second
	}
	policy := retry.Policy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: time.Second}
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 10 * time.Minute
	}
	if opts.NegativeSize <= 0 {
		opts.NegativeSize = 4096
	}
	if opts.Resolve == nil {
		opts.Resolve = dns.ResolveIP
	}
	return &Enricher{
		providers:       providers,
		cache:           cache,
		negative:        expirable.NewLRU[string, struct{}](opts.NegativeSize, nil, opts.NegativeTTL),
		limiter:         opts.Limiter,
		resolve:         opts.Resolve,
		policy:          policy,
		providerTimeout: opts.ProviderTimeout,
		overallTimeout:  opts.OverallTimeout,
		log:             log,
	}
}

// Cache exposes the injected location cache.
func (e *Enricher) Cache() Cache { return e.cache }

// Lookup returns the location of addr ("host" or "host:port"). It never
// fails; unresolvable addresses yield model.UnknownLocation().
func (e *Enricher) Lookup(ctx context.Context, addr string) model.Location {
	host := dns.SplitHost(addr)
	if host == "" {
		metrics.GeoResolutions.WithLabelValues("sentinel").Inc()
		return model.UnknownLocation()
	}
	if loc, ok := e.cache.Get(host); ok {
		metrics.GeoResolutions.WithLabelValues("cache").Inc()
		return loc
	}
	if e.negative.Contains(host) {
		metrics.GeoResolutions.WithLabelValues("negative").Inc()
		return model.UnknownLocation()
	}

	ctx, span := telemetry.Tracer().Start(ctx, "geo.lookup")
	span.SetAttributes(attribute.String("host", host))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.overallTimeout)
	defer cancel()

	ip, err := e.resolve(ctx, host)
	if err != nil {
		e.log.Debugw("geo: cannot resolve host", "host", host, "err", err)
		e.negative.Add(host, struct{}{})
		metrics.GeoResolutions.WithLabelValues("sentinel").Inc()
		return model.UnknownLocation()
	}
	if !dns.IsPublic(ip) {
		metrics.GeoResolutions.WithLabelValues("private").Inc()
		return model.UnknownLocation()
	}

	for _, p := range e.providers {
		loc, err := e.tryProvider(ctx, p, ip.String())
		if err == nil {
			e.cache.Set(host, loc)
			span.SetAttributes(attribute.String("provider", p.Name()), attribute.String("country", loc.Country))
			metrics.GeoResolutions.WithLabelValues("provider").Inc()
			return loc
		}
		e.log.Debugw("geo provider failed", "provider", p.Name(), "host", host, "err", err)
		if ctx.Err() != nil {
			break
		}
	}

	e.log.Infow("geo lookup fell back to unknown", "host", host)
	e.negative.Add(host, struct{}{})
	metrics.GeoResolutions.WithLabelValues("sentinel").Inc()
	return model.UnknownLocation()
}

func (e *Enricher) tryProvider(ctx context.Context, p Provider, ip string) (model.Location, error) {
	var loc model.Location
	err := e.policy.Do(ctx, func(int) error {
		if e.limiter.Enabled() {
			if err := e.limiter.Wait(ctx, p.Name()); err != nil {
				return retry.Permanent(err)
			}
		}
		pctx, cancel := context.WithTimeout(ctx, e.providerTimeout)
		defer cancel()

		l, err := p.Lookup(pctx, ip)
		switch {
		case err == nil:
			metrics.GeoLookups.WithLabelValues(p.Name(), "ok").Inc()
			loc = l
			return nil
		case circuitbreaker.IsRejected(err):
			metrics.GeoLookups.WithLabelValues(p.Name(), "open").Inc()
			return retry.Permanent(err)
		case errors.Is(err, ErrRejected):
			metrics.GeoLookups.WithLabelValues(p.Name(), "rejected").Inc()
			return retry.Permanent(err)
		default:
			metrics.GeoLookups.WithLabelValues(p.Name(), "error").Inc()
			return err
		}
	}, nil)
	return loc, err
}
