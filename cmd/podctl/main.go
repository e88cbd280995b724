package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gustycube/podwatch/internal/app"
	"github.com/gustycube/podwatch/internal/cache"
	"github.com/gustycube/podwatch/internal/config"
	"github.com/gustycube/podwatch/internal/logging"
	"github.com/gustycube/podwatch/internal/output"
	"github.com/gustycube/podwatch/internal/persist"
	"github.com/gustycube/podwatch/internal/ui"
)

type nopSink struct{}

func (nopSink) Submit(persist.Batch) bool { return true }

func main() {
	var configFile string
	var redisAddr string
	var refresh bool
	var dump bool
	var format string
	var seedsFile string
	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&redisAddr, "redis", "", "redis addr of the result cache (defaults to REDIS_ADDR)")
	flag.BoolVar(&refresh, "refresh", false, "clear cached directory results")
	flag.BoolVar(&dump, "dump", false, "run one aggregation pass and print the records")
	flag.StringVar(&format, "format", "json", "dump format: json, jsonl or csv")
	flag.StringVar(&seedsFile, "seeds_file", "", "file of seed addresses, one per line")
	flag.Parse()

	if refresh == dump {
		fmt.Fprintln(os.Stderr, "use exactly one of -refresh or -dump")
		os.Exit(2)
	}

	cfg, err := loadConfig(configFile, seedsFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if refresh {
		if redisAddr == "" {
			redisAddr = cfg.RedisAddr
		}
		if redisAddr == "" {
			fmt.Fprintln(os.Stderr, "missing -redis")
			os.Exit(1)
		}
		rs := cache.NewRedisStore(redisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "redis:", err)
			os.Exit(1)
		}
		n := cache.NewLayer(rs, log).DeletePattern(ctx, cache.RefreshPatterns...)
		fmt.Println("cleared", n, "cache entries")
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	w, err := output.NewStdoutWriter(format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	p, err := app.BuildPipeline(cfg, nopSink{}, nil, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	spin := ui.NewSpinner(os.Stderr, fmt.Sprintf("querying %d seeds", len(cfg.Seeds)))
	spin.Start()
	pass := p.Run(ctx)
	spin.Stop()
	if err := w.WriteRecords(pass.Records); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d pods from %d/%d seeds in %s\n", len(pass.Records), pass.SeedsOK(), len(pass.Seeds), pass.Duration.Round(time.Millisecond))
}

func loadConfig(file, seedsFile string) (*config.Config, error) {
	cfg := &config.Config{}
	if file != "" {
		var err error
		if cfg, err = config.LoadFromFile(file); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	} else {
		cfg.SetDefaults()
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if seedsFile != "" {
		list, err := readSeeds(seedsFile)
		if err != nil {
			return nil, err
		}
		cfg.Seeds = list
	}
	return cfg, nil
}

func readSeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
