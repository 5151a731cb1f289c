// Package config loads harvester settings from the environment. Every value
// has a default; the CLI exposes each one as a flag defaulting to the value
// loaded here.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-harvester/pkg/sink"
)

// Budget backends.
const (
	BudgetMemory = "memory"
	BudgetRedis  = "redis"
)

// Config holds all harvester settings.
type Config struct {
	// Catalog API
	BaseURL         string
	APIKey          string
	APIKeyHeader    string
	UserAgent       string
	Lang            string
	PolitenessDelay time.Duration
	MaxRetries      int
	Timeout         time.Duration

	// Budget
	MaxRequests  int
	BudgetStore  string
	BudgetKey    string
	BudgetWindow time.Duration

	// Redis (budget, cache, redis sink)
	RedisURL   string
	Cache      bool
	CacheTTL   time.Duration
	CachePurge bool

	// Sampler
	MaxListCalls       int
	PageSize           int
	MaxIssuers         int
	NoNewThreshold     int
	MinTasksBeforeStop int
	MinPoolSize        int
	FallbackPages      int
	FallbackPoolCap    int

	// Harvester
	TargetCount  int
	SafetyMargin int
	Concurrency  int

	// Sink
	Sink        string
	OutputDir   string
	RedisHash   string
	S3Bucket    string
	S3Prefix    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	PostgresURL string

	// Ambient
	Seed        int64
	LogLevel    string
	LogPretty   bool
	LogFile     string
	MetricsAddr string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		BaseURL:            "https://api.numista.com/api/v3",
		APIKeyHeader:       "Numista-API-Key",
		UserAgent:          "catalog-harvester/0.1.0",
		Lang:               "en",
		PolitenessDelay:    350 * time.Millisecond,
		MaxRetries:         6,
		Timeout:            30 * time.Second,
		MaxRequests:        2000,
		BudgetStore:        BudgetMemory,
		BudgetKey:          "harvest:budget:used",
		RedisURL:           "redis://localhost:6379/0",
		CacheTTL:           24 * time.Hour,
		MaxListCalls:       350,
		PageSize:           100,
		MaxIssuers:         200,
		NoNewThreshold:     40,
		MinTasksBeforeStop: 40,
		MinPoolSize:        200,
		FallbackPages:      20,
		FallbackPoolCap:    1000,
		TargetCount:        1800,
		SafetyMargin:       2,
		Concurrency:        1,
		Sink:               sink.KindFile,
		OutputDir:          "numista_data",
		RedisHash:          "harvest:records",
		S3Region:           "us-east-1",
		LogLevel:           "info",
	}
}

// Load reads the environment on top of Default. Malformed values are
// reported together.
func Load() (Config, error) {
	cfg := Default()
	p := &parser{}

	cfg.BaseURL = getEnv("CATALOG_BASE_URL", cfg.BaseURL)
	cfg.APIKey = getEnv("CATALOG_API_KEY", cfg.APIKey)
	cfg.APIKeyHeader = getEnv("CATALOG_API_KEY_HEADER", cfg.APIKeyHeader)
	cfg.UserAgent = getEnv("USER_AGENT", cfg.UserAgent)
	cfg.Lang = getEnv("CATALOG_LANG", cfg.Lang)
	cfg.PolitenessDelay = p.getDuration("POLITENESS_DELAY", cfg.PolitenessDelay)
	cfg.MaxRetries = p.getInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.Timeout = p.getDuration("REQUEST_TIMEOUT", cfg.Timeout)

	cfg.MaxRequests = p.getInt("MAX_REQUESTS", cfg.MaxRequests)
	cfg.BudgetStore = getEnv("BUDGET_STORE", cfg.BudgetStore)
	cfg.BudgetKey = getEnv("BUDGET_KEY", cfg.BudgetKey)
	cfg.BudgetWindow = p.getDuration("BUDGET_WINDOW", cfg.BudgetWindow)

	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.Cache = p.getBool("CACHE_ENABLED", cfg.Cache)
	cfg.CacheTTL = p.getDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.CachePurge = p.getBool("CACHE_PURGE", cfg.CachePurge)

	cfg.MaxListCalls = p.getInt("MAX_LIST_CALLS", cfg.MaxListCalls)
	cfg.PageSize = p.getInt("LIST_PAGE_LIMIT", cfg.PageSize)
	cfg.MaxIssuers = p.getInt("MAX_ISSUERS", cfg.MaxIssuers)
	cfg.NoNewThreshold = p.getInt("NO_NEW_THRESHOLD", cfg.NoNewThreshold)
	cfg.MinTasksBeforeStop = p.getInt("MIN_TASKS_BEFORE_STOP", cfg.MinTasksBeforeStop)
	cfg.MinPoolSize = p.getInt("MIN_POOL_SIZE", cfg.MinPoolSize)
	cfg.FallbackPages = p.getInt("FALLBACK_PAGES", cfg.FallbackPages)
	cfg.FallbackPoolCap = p.getInt("FALLBACK_POOL_CAP", cfg.FallbackPoolCap)

	cfg.TargetCount = p.getInt("TARGET_DETAIL_COUNT", cfg.TargetCount)
	cfg.SafetyMargin = p.getInt("SAFETY_MARGIN", cfg.SafetyMargin)
	cfg.Concurrency = p.getInt("CONCURRENCY", cfg.Concurrency)

	cfg.Sink = getEnv("SINK", cfg.Sink)
	cfg.OutputDir = getEnv("OUTPUT_DIR", cfg.OutputDir)
	cfg.RedisHash = getEnv("REDIS_HASH", cfg.RedisHash)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Prefix = getEnv("S3_PREFIX", cfg.S3Prefix)
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.PostgresURL = getEnv("DATABASE_URL", cfg.PostgresURL)

	cfg.Seed = p.getInt64("SEED", cfg.Seed)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = p.getBool("LOG_PRETTY", cfg.LogPretty)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)

	return cfg, errors.Join(p.errs...)
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.BaseURL != "", "base url is required")
	check(c.UserAgent != "", "user agent is required")
	check(c.MaxRequests >= 0, "max requests must be >= 0 (got %d)", c.MaxRequests)
	check(c.MaxRetries >= 0, "max retries must be >= 0 (got %d)", c.MaxRetries)
	check(c.PolitenessDelay >= 0, "politeness delay must be >= 0 (got %s)", c.PolitenessDelay)
	check(c.PageSize >= 1 && c.PageSize <= 100, "page size must be in [1, 100] (got %d)", c.PageSize)
	check(c.MaxListCalls >= 0, "max list calls must be >= 0 (got %d)", c.MaxListCalls)
	check(c.TargetCount >= 0, "target detail count must be >= 0 (got %d)", c.TargetCount)
	check(c.SafetyMargin >= 0, "safety margin must be >= 0 (got %d)", c.SafetyMargin)
	check(c.Concurrency >= 1, "concurrency must be >= 1 (got %d)", c.Concurrency)
	check(c.BudgetStore == BudgetMemory || c.BudgetStore == BudgetRedis,
		"budget store must be %q or %q (got %q)", BudgetMemory, BudgetRedis, c.BudgetStore)

	switch c.Sink {
	case sink.KindFile:
		check(c.OutputDir != "", "output dir is required for the file sink")
	case sink.KindRedis:
	case sink.KindS3:
		check(c.S3Bucket != "", "s3 bucket is required for the s3 sink")
	case sink.KindPostgres:
		check(c.PostgresURL != "", "database url is required for the postgres sink")
	default:
		errs = append(errs, fmt.Errorf("%w: %q", sink.ErrUnknownSink, c.Sink))
	}

	return errors.Join(errs...)
}

// NeedsRedis reports whether any component uses the Redis connection.
func (c Config) NeedsRedis() bool {
	return c.BudgetStore == BudgetRedis || c.Cache || c.Sink == sink.KindRedis
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects conversion errors.
type parser struct {
	errs []error
}

func (p *parser) getInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (p *parser) getInt64(key string, def int64) int64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (p *parser) getBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

// getDuration accepts Go durations ("350ms") or plain seconds ("0.35").
func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
	return def
}
