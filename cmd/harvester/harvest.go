package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/Sternrassler/catalog-harvester/internal/config"
	"github.com/Sternrassler/catalog-harvester/pkg/budget"
	"github.com/Sternrassler/catalog-harvester/pkg/cache"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
	"github.com/Sternrassler/catalog-harvester/pkg/harvester"
	"github.com/Sternrassler/catalog-harvester/pkg/logging"
	"github.com/Sternrassler/catalog-harvester/pkg/metrics"
	"github.com/Sternrassler/catalog-harvester/pkg/pipeline"
	"github.com/Sternrassler/catalog-harvester/pkg/sampler"
	"github.com/Sternrassler/catalog-harvester/pkg/sink"
	"github.com/redis/go-redis/v9"
)

// harvest wires all components from cfg and runs one pipeline.
func harvest(ctx context.Context, cfg config.Config) (pipeline.Report, error) {
	logger := logging.NewLogger("main")

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger.Info().Int64("seed", seed).Int("max_requests", cfg.MaxRequests).Str("sink", cfg.Sink).Msg("Starting harvester")

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr)
		if err != nil {
			return pipeline.Report{}, err
		}
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return pipeline.Report{}, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return pipeline.Report{}, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	s, err := sink.Open(ctx, sink.Config{
		Kind:      cfg.Sink,
		Dir:       cfg.OutputDir,
		Redis:     redisClient,
		RedisURL:  cfg.RedisURL,
		RedisHash: cfg.RedisHash,
		S3: sink.S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
		PostgresURL: cfg.PostgresURL,
	})
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("open %s sink: %w", cfg.Sink, err)
	}
	defer s.Close()

	var b budget.Budget = budget.NewCounter(cfg.MaxRequests)
	if cfg.BudgetStore == config.BudgetRedis {
		b = budget.NewRedisCounter(redisClient, cfg.MaxRequests, budget.RedisOptions{
			Key:    cfg.BudgetKey,
			Window: cfg.BudgetWindow,
		}, logging.NewLogger("budget"))
	}

	clientCfg := client.DefaultConfig(b, cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.APIKeyHeader = cfg.APIKeyHeader
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.PolitenessDelay = cfg.PolitenessDelay
	clientCfg.MaxRetries = cfg.MaxRetries
	clientCfg.Timeout = cfg.Timeout
	clientCfg.Rand = rand.New(rand.NewSource(seed + 2))
	if cfg.Cache {
		manager := cache.NewManager(redisClient, cache.WithNamespace(apiHost(cfg.BaseURL)))
		if cfg.CachePurge {
			n, err := manager.Purge(ctx)
			if err != nil {
				return pipeline.Report{}, fmt.Errorf("purge cache: %w", err)
			}
			logger.Info().Int("keys", n).Msg("Purged response cache")
		}
		clientCfg.Cache = manager
		clientCfg.CacheTTL = cfg.CacheTTL
	}

	c, err := client.New(clientCfg)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	samplerCfg := sampler.DefaultConfig()
	samplerCfg.Lang = cfg.Lang
	samplerCfg.PageSize = cfg.PageSize
	samplerCfg.MaxListCalls = cfg.MaxListCalls
	samplerCfg.MaxIssuers = cfg.MaxIssuers
	samplerCfg.NoNewThreshold = cfg.NoNewThreshold
	samplerCfg.MinTasksBeforeStop = cfg.MinTasksBeforeStop
	samplerCfg.MinPoolSize = cfg.MinPoolSize
	samplerCfg.FallbackPages = cfg.FallbackPages
	samplerCfg.FallbackPoolCap = cfg.FallbackPoolCap

	smp, err := sampler.New(c, samplerCfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		return pipeline.Report{}, err
	}

	harvesterCfg := harvester.DefaultConfig()
	harvesterCfg.Lang = cfg.Lang
	harvesterCfg.TargetCount = cfg.TargetCount
	harvesterCfg.SafetyMargin = cfg.SafetyMargin
	harvesterCfg.Concurrency = cfg.Concurrency

	h, err := harvester.New(c, s, harvesterCfg, rand.New(rand.NewSource(seed+1)))
	if err != nil {
		return pipeline.Report{}, err
	}

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.Lang = cfg.Lang

	p, err := pipeline.New(c, smp, h, s, pipelineCfg)
	if err != nil {
		return pipeline.Report{}, err
	}
	return p.Run(ctx)
}

// apiHost names the cache namespace after the API host.
func apiHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}
