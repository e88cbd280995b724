package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gustycube/podwatch/internal/health"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SeedQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_seed_queries_total", Help: "seed queries by outcome",
	}, []string{"seed", "status"})
	SeedAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_seed_attempts_total", Help: "individual seed RPC attempts",
	}, []string{"seed", "method", "status"})
	SeedLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "podwatch_seed_latency_seconds", Help: "seed RPC round trip", Buckets: prometheus.DefBuckets,
	}, []string{"seed"})

	GeoLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_geo_lookups_total", Help: "geo provider calls by outcome",
	}, []string{"provider", "status"})
	GeoResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_geo_resolutions_total", Help: "address resolutions by source",
	}, []string{"source"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_circuit_breaker_transitions_total", Help: "circuit breaker state changes",
	}, []string{"name", "from", "to"})

	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_cache_requests_total", Help: "cache lookups by result",
	}, []string{"result"})
	CacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_cache_errors_total", Help: "cache store failures",
	}, []string{"op"})

	AggregationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "podwatch_aggregation_duration_seconds", Help: "aggregation pass wall time",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
	})
	PodsAggregated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "podwatch_pods", Help: "unique pods in the last aggregation pass",
	})
	DuplicatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "podwatch_duplicate_observations_total", Help: "observations discarded by the merge",
	})

	PersistBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "podwatch_persist_batches_total", Help: "persistence batches by outcome",
	}, []string{"status"})
	PersistQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "podwatch_persist_queue_depth", Help: "batches waiting to be written",
	})
)

func init() {
	prometheus.MustRegister(
		SeedQueries, SeedAttempts, SeedLatency,
		GeoLookups, GeoResolutions, BreakerTransitions,
		CacheRequests, CacheErrors,
		AggregationDuration, PodsAggregated, DuplicatesDropped,
		PersistBatches, PersistQueueDepth,
	)
}

// Handler returns a mux with /metrics and the health endpoints.
func Handler(healthHandler *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if healthHandler != nil {
		mux.HandleFunc("/health", healthHandler.HealthHandler)
		mux.HandleFunc("/ready", healthHandler.ReadinessHandler)
		mux.HandleFunc("/live", healthHandler.LivenessHandler)
	}
	return mux
}

// ServeWithHealth serves Handler on addr until ctx is cancelled.
func ServeWithHealth(ctx context.Context, addr string, healthHandler *health.Handler, log *logging.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(healthHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warnw("metrics server stopped", "err", err)
	}
}
