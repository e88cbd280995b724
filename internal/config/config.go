package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/gustycube/podwatch/internal/retry"
)

// Config represents the complete configuration for podwatch
type Config struct {
	// HTTP API
	ListenAddr string   `yaml:"listen_addr" json:"listen_addr"`
	APIKeys    []string `yaml:"api_keys" json:"api_keys"`
	// RateLimitRPM of 0 selects the default; a negative value disables it.
	RateLimitRPM int `yaml:"rate_limit_rpm" json:"rate_limit_rpm"`

	// Seeds
	Seeds           []string          `yaml:"seeds" json:"seeds"`
	SeedUptimeUnits map[string]string `yaml:"seed_uptime_units" json:"seed_uptime_units"`
	UptimeWindowSec int               `yaml:"uptime_window_sec" json:"uptime_window_sec"`
	PRPCPort        int               `yaml:"prpc_port" json:"prpc_port"`
	SeedTimeoutSec  int               `yaml:"seed_timeout_sec" json:"seed_timeout_sec"`
	// SeedRetries unset selects the default; 0 or a negative value disables retries.
	SeedRetries  *int    `yaml:"seed_retries" json:"seed_retries"`
	RetryBaseMS  int     `yaml:"retry_base_ms" json:"retry_base_ms"`
	RetryMaxMS   int     `yaml:"retry_max_ms" json:"retry_max_ms"`
	RetryJitter  float64 `yaml:"retry_jitter" json:"retry_jitter"`
	MergePolicy  string  `yaml:"merge_policy" json:"merge_policy"`
	EnrichWorker int     `yaml:"enrich_concurrency" json:"enrich_concurrency"`

	// Geo
	GeoTimeoutSec        int     `yaml:"geo_timeout_sec" json:"geo_timeout_sec"`
	GeoOverallTimeoutSec int     `yaml:"geo_overall_timeout_sec" json:"geo_overall_timeout_sec"`
	GeoRatePerSec        float64 `yaml:"geo_rate_per_sec" json:"geo_rate_per_sec"`
	GeoCacheSize         int     `yaml:"geo_cache_size" json:"geo_cache_size"`
	GeoNegativeTTLSec    int     `yaml:"geo_negative_ttl_sec" json:"geo_negative_ttl_sec"`

	// Cache
	RedisAddr       string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword   string `yaml:"redis_password" json:"redis_password"`
	RedisDB         int    `yaml:"redis_db" json:"redis_db"`
	PnodeCacheTTL   int    `yaml:"pnode_cache_ttl" json:"pnode_cache_ttl"`
	StatsCacheTTL   int    `yaml:"stats_cache_ttl" json:"stats_cache_ttl"`
	HistoryCacheTTL int    `yaml:"history_cache_ttl" json:"history_cache_ttl"`
	GeoCacheTTL     int    `yaml:"geo_cache_ttl" json:"geo_cache_ttl"`

	// Persistence
	DatabaseURL          string `yaml:"database_url" json:"database_url"`
	DBFallback           bool   `yaml:"db_fallback" json:"db_fallback"`
	PersistQueue         int    `yaml:"persist_queue" json:"persist_queue"`
	PersistMaxElapsedSec int    `yaml:"persist_max_elapsed_sec" json:"persist_max_elapsed_sec"`

	// Observability
	LogLevel     string `yaml:"log_level" json:"log_level"`
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.RateLimitRPM == 0 {
		c.RateLimitRPM = 100
	}
	if c.UptimeWindowSec == 0 {
		c.UptimeWindowSec = 7 * 24 * 3600
	}
	if c.PRPCPort == 0 {
		c.PRPCPort = 6000
	}
	if c.SeedTimeoutSec == 0 {
		c.SeedTimeoutSec = 10
	}
	if c.SeedRetries == nil {
		n := 3
		c.SeedRetries = &n
	}
	if c.RetryBaseMS == 0 {
		c.RetryBaseMS = 1000
	}
	if c.RetryMaxMS == 0 {
		c.RetryMaxMS = 8000
	}
	if c.MergePolicy == "" {
		c.MergePolicy = "first"
	}
	if c.EnrichWorker == 0 {
		c.EnrichWorker = 16
	}
	if c.GeoTimeoutSec == 0 {
		c.GeoTimeoutSec = 5
	}
	if c.GeoOverallTimeoutSec == 0 {
		c.GeoOverallTimeoutSec = 10
	}
	if c.GeoNegativeTTLSec == 0 {
		c.GeoNegativeTTLSec = 600
	}
	if c.PnodeCacheTTL == 0 {
		c.PnodeCacheTTL = 300
	}
	if c.StatsCacheTTL == 0 {
		c.StatsCacheTTL = 60
	}
	if c.HistoryCacheTTL == 0 {
		c.HistoryCacheTTL = 3600
	}
	if c.GeoCacheTTL == 0 {
		c.GeoCacheTTL = 300
	}
	if c.PersistQueue == 0 {
		c.PersistQueue = 64
	}
	if c.PersistMaxElapsedSec == 0 {
		c.PersistMaxElapsedSec = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.OTELService == "" {
		c.OTELService = "podwatch"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("at least one seed is required")
	}
	for _, s := range c.Seeds {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("seed addresses must not be empty")
		}
	}
	for seed, unit := range c.SeedUptimeUnits {
		if unit != "seconds" && unit != "percent" {
			return fmt.Errorf("seed_uptime_units[%s]: unknown unit %q (use seconds or percent)", seed, unit)
		}
	}
	if c.MergePolicy != "first" && c.MergePolicy != "latest" {
		return fmt.Errorf("merge_policy must be first or latest, got %q", c.MergePolicy)
	}
	if c.PRPCPort < 1 || c.PRPCPort > 65535 {
		return fmt.Errorf("prpc_port out of range")
	}
	if c.SeedTimeoutSec < 1 {
		return fmt.Errorf("seed_timeout_sec must be at least 1")
	}
	if c.RetryBaseMS < 1 || c.RetryMaxMS < c.RetryBaseMS {
		return fmt.Errorf("retry_base_ms must be at least 1 and no greater than retry_max_ms")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("retry_jitter must be between 0 and 1")
	}
	if c.EnrichWorker < 1 {
		return fmt.Errorf("enrich_concurrency must be at least 1")
	}
	if c.GeoCacheSize < 0 {
		return fmt.Errorf("geo_cache_size must not be negative")
	}
	if c.PnodeCacheTTL < 1 || c.StatsCacheTTL < 1 || c.HistoryCacheTTL < 1 || c.GeoCacheTTL < 1 {
		return fmt.Errorf("cache ttls must be at least 1 second")
	}
	if c.PersistQueue < 1 {
		return fmt.Errorf("persist_queue must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file. Defaults are
// applied; validation is left to the caller once env and flags are merged.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()
	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration
// Command-line flags take precedence over file configuration
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["listen_addr"].(string); ok && v != "" {
		c.ListenAddr = v
	}
	if v, ok := flags["seeds"].(string); ok && v != "" {
		c.Seeds = splitList(v)
	}
	if v, ok := flags["prpc_port"].(int); ok && v > 0 {
		c.PRPCPort = v
	}
	if v, ok := flags["merge_policy"].(string); ok && v != "" {
		c.MergePolicy = v
	}
	if v, ok := flags["enrich_concurrency"].(int); ok && v > 0 {
		c.EnrichWorker = v
	}
	if v, ok := flags["redis_addr"].(string); ok && v != "" {
		c.RedisAddr = v
	}
	if v, ok := flags["database_url"].(string); ok && v != "" {
		c.DatabaseURL = v
	}
	if v, ok := flags["db_fallback"].(bool); ok && v {
		c.DBFallback = v
	}
	if v, ok := flags["log_level"].(string); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("PRPC_SEED_IPS"); v != "" {
		c.Seeds = splitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("VALID_API_KEYS"); v != "" {
		c.APIKeys = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"PNODE_CACHE_TTL", &c.PnodeCacheTTL},
		{"STATS_CACHE_TTL", &c.StatsCacheTTL},
		{"HISTORY_CACHE_TTL", &c.HistoryCacheTTL},
		{"GEO_CACHE_TTL", &c.GeoCacheTTL},
		{"RATE_LIMIT_RPM", &c.RateLimitRPM},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
		*e.dst = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) SeedTimeout() time.Duration       { return seconds(c.SeedTimeoutSec) }
func (c *Config) UptimeWindow() time.Duration      { return seconds(c.UptimeWindowSec) }
func (c *Config) GeoTimeout() time.Duration        { return seconds(c.GeoTimeoutSec) }
func (c *Config) GeoOverallTimeout() time.Duration { return seconds(c.GeoOverallTimeoutSec) }
func (c *Config) GeoNegativeTTL() time.Duration    { return seconds(c.GeoNegativeTTLSec) }
func (c *Config) PersistMaxElapsed() time.Duration { return seconds(c.PersistMaxElapsedSec) }

// SeedRetryPolicy is the backoff applied to each seed independently.
func (c *Config) SeedRetryPolicy() retry.Policy {
	retries := 0
	if c.SeedRetries != nil {
		retries = max(*c.SeedRetries, 0)
	}
	return retry.Policy{
		MaxRetries: retries,
		BaseDelay:  time.Duration(c.RetryBaseMS) * time.Millisecond,
		MaxDelay:   time.Duration(c.RetryMaxMS) * time.Millisecond,
		Jitter:     c.RetryJitter,
	}
}
