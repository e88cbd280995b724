package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gustycube/podwatch/internal/aggregate"
	"github.com/gustycube/podwatch/internal/api"
	"github.com/gustycube/podwatch/internal/app"
	"github.com/gustycube/podwatch/internal/cache"
	"github.com/gustycube/podwatch/internal/config"
	"github.com/gustycube/podwatch/internal/directory"
	"github.com/gustycube/podwatch/internal/health"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/metrics"
	"github.com/gustycube/podwatch/internal/persist"
	"github.com/gustycube/podwatch/internal/retry"
	"github.com/gustycube/podwatch/internal/telemetry"
)

const version = "1.0.0"

func main() {
	var configFile string
	var listenAddr string
	var seedList string
	var prpcPort int
	var mergePolicy string
	var enrichConcurrency int
	var redisAddr string
	var databaseURL string
	var dbFallback bool
	var logLevel string
	var metricsAddr string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&listenAddr, "listen", "", "API listen addr")
	flag.StringVar(&seedList, "seeds", "", "comma-separated seed addresses")
	flag.IntVar(&prpcPort, "prpc_port", 0, "seed RPC port when an address has none")
	flag.StringVar(&mergePolicy, "merge_policy", "", "duplicate resolution: first or latest")
	flag.IntVar(&enrichConcurrency, "enrich_concurrency", 0, "parallel geo lookups per pass")
	flag.StringVar(&redisAddr, "redis_addr", "", "Redis addr for the result cache (empty for in-memory)")
	flag.StringVar(&databaseURL, "database_url", "", "Postgres DSN (empty disables persistence)")
	flag.BoolVar(&dbFallback, "db_fallback", false, "serve persisted records when no seed answers")
	flag.StringVar(&logLevel, "log_level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics and health listen addr")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "podwatch aggregates pods from seed nodes and serves a scored directory\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -seeds=173.212.203.145,161.97.97.41\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=podwatch.yaml -redis_addr=localhost:6379\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PRPC_SEED_IPS     Comma-separated seed addresses\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR        Redis server for the result cache\n")
		fmt.Fprintf(os.Stderr, "  DATABASE_URL      Postgres DSN for persistence\n")
		fmt.Fprintf(os.Stderr, "  VALID_API_KEYS    Comma-separated API keys\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL         Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("podwatch v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to load config file:", err)
			os.Exit(1)
		}
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid environment:", err)
		os.Exit(1)
	}

	flags := make(map[string]interface{})
	if listenAddr != "" {
		flags["listen_addr"] = listenAddr
	}
	if seedList != "" {
		flags["seeds"] = seedList
	}
	if prpcPort > 0 {
		flags["prpc_port"] = prpcPort
	}
	if mergePolicy != "" {
		flags["merge_policy"] = mergePolicy
	}
	if enrichConcurrency > 0 {
		flags["enrich_concurrency"] = enrichConcurrency
	}
	if redisAddr != "" {
		flags["redis_addr"] = redisAddr
	}
	if databaseURL != "" {
		flags["database_url"] = databaseURL
	}
	if dbFallback {
		flags["db_fallback"] = true
	}
	if logLevel != "" {
		flags["log_level"] = logLevel
	}
	if metricsAddr != "" {
		flags["metrics_addr"] = metricsAddr
	}
	if otelEndpoint != "" {
		flags["otel_endpoint"] = otelEndpoint
	}
	if otelService != "" {
		flags["otel_service"] = otelService
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "otel_insecure" {
			flags["otel_insecure"] = otelInsecure
		}
	})

	cfg.MergeWithFlags(flags)

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("version", version)
	healthHandler.SetMetadata("seeds", fmt.Sprint(len(cfg.Seeds)))

	store := openCache(ctx, cfg, healthHandler, log)
	defer store.Close()

	db := openDatabase(ctx, cfg, healthHandler, log)
	defer db.Close()

	syncer := persist.NewSyncer(db, cfg.PersistQueue,
		retry.Policy{MaxRetries: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		cfg.PersistMaxElapsed(), log)
	healthHandler.RegisterChecker("persist_queue", health.NewQueueChecker(syncer.Depth, syncer.Capacity()))

	syncCtx, stopSync := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		syncer.Run(syncCtx, 10*time.Second)
	}()

	passes := health.NewPassChecker()
	healthHandler.RegisterChecker("seeds", passes)
	pipeline, err := app.BuildPipeline(cfg, syncer, func(p *aggregate.Pass) {
		passes.Observe(p.SeedsOK(), len(p.Seeds), p.FailedSeeds(), p.Started)
	}, log)
	if err != nil {
		log.Fatalw("pipeline init", "err", err)
	}

	svc := directory.New(pipeline, cache.NewLayer(store, log), db, directory.Options{
		TTLs: directory.TTLs{
			Nodes:   time.Duration(cfg.PnodeCacheTTL) * time.Second,
			Stats:   time.Duration(cfg.StatsCacheTTL) * time.Second,
			History: time.Duration(cfg.HistoryCacheTTL) * time.Second,
			Geo:     time.Duration(cfg.GeoCacheTTL) * time.Second,
		},
		DBFallback: cfg.DBFallback,
	}, log)

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(ctx, cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewServer(svc, api.Config{
			APIKeys:      cfg.APIKeys,
			RateLimitRPM: max(cfg.RateLimitRPM, 0),
		}, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("starting podwatch",
		"listen", cfg.ListenAddr,
		"seeds", cfg.Seeds,
		"merge_policy", cfg.MergePolicy,
		"enrich_concurrency", cfg.EnrichWorker,
		"redis", cfg.RedisAddr != "",
		"database", !persist.IsNop(db),
		"config_file", configFile,
	)
	healthHandler.SetReady(true)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("api server stopped", "err", err)
		cancel()
	}

	healthHandler.SetReady(false)
	stopSync()
	wg.Wait()
	written, failed, dropped := syncer.Stats()
	log.Infow("shutdown complete", "persisted", written, "failed", failed, "dropped", dropped)
}

func openCache(ctx context.Context, cfg *config.Config, h *health.Handler, log *logging.Logger) cache.Store {
	if cfg.RedisAddr == "" {
		log.Infow("in-memory result cache enabled")
		return cache.NewMemoryStore(time.Minute)
	}
	rs := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rs.Ping(pctx); err != nil {
		log.Warnw("redis unreachable, cache reads will miss until it recovers", "addr", cfg.RedisAddr, "err", err)
	} else {
		log.Infow("redis result cache enabled", "addr", cfg.RedisAddr)
	}
	h.RegisterChecker("redis", health.NewPingChecker("redis", rs.Ping))
	return rs
}

func openDatabase(ctx context.Context, cfg *config.Config, h *health.Handler, log *logging.Logger) persist.Store {
	if cfg.DatabaseURL == "" {
		log.Infow("persistence disabled")
		return persist.Nop{}
	}
	if err := persist.Migrate(cfg.DatabaseURL); err != nil {
		log.Warnw("migrations failed, persistence disabled", "err", err)
		return persist.Nop{}
	}
	pg, err := persist.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Warnw("postgres unavailable, persistence disabled", "err", err)
		return persist.Nop{}
	}
	h.RegisterChecker("postgres", health.NewPingChecker("postgres", pg.Ping))
	log.Infow("postgres persistence enabled")
	return pg
}
