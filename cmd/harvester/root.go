package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/Sternrassler/catalog-harvester/internal/config"
	"github.com/Sternrassler/catalog-harvester/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester [flags]",
		Short: "Budget-constrained catalog harvester",
		Long: heredoc.Doc(`
			Sample catalog identifiers from listing queries and store the full
			detail record of each one, spending no more than --max-requests API
			calls. Records already in the sink are never fetched again, so
			repeated runs grow the dataset.
		`),
		Example: heredoc.Doc(`
			$ CATALOG_API_KEY=... harvester
			$ harvester --max-requests 500 --output-dir ./data
			$ harvester --sink postgres --database-url postgres://localhost/catalog
			$ harvester --budget-store redis --budget-window 720h --cache
		`),
		Annotations: map[string]string{
			"versionInfo": "0.1.0",
		},
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.LogLevel),
				Pretty: cfg.LogPretty,
				Output: c.ErrOrStderr(),
				File:   cfg.LogFile,
				RunID:  uuid.NewString(),
			})

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := harvest(ctx, *cfg)
			if err != nil {
				return err
			}

			log.Info().Object("report", report).Msg("Harvest finished")
			fmt.Fprintf(c.OutOrStdout(), "discovered=%d saved=%d calls=%d\n",
				report.Discovered, report.Saved, report.CallsUsed)
			return nil
		},
	}

	addClientFlags(cmd, cfg)
	addSamplingFlags(cmd, cfg)
	addSinkFlags(cmd, cfg)

	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed for task order and page choice (0 uses the clock)")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "Human-readable console logs")
	cmd.Flags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write JSON logs to this rotated file")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9190)")
	return cmd
}

func addClientFlags(cmd *cobra.Command, cfg *config.Config) {
	// Catalog API
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Catalog API base URL")
	cmd.Flags().StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "Catalog API key (default $CATALOG_API_KEY)")
	cmd.Flags().StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header")
	cmd.Flags().StringVar(&cfg.Lang, "lang", cfg.Lang, "Response language")
	cmd.Flags().DurationVar(&cfg.PolitenessDelay, "politeness-delay", cfg.PolitenessDelay, "Pause before every HTTP attempt")
	cmd.Flags().IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Retries of transient failures per call")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-attempt HTTP timeout")

	// Budget
	cmd.Flags().IntVar(&cfg.MaxRequests, "max-requests", cfg.MaxRequests, "Total API call budget")
	cmd.Flags().StringVar(&cfg.BudgetStore, "budget-store", cfg.BudgetStore, "Budget counter store (memory, redis)")
	cmd.Flags().StringVar(&cfg.BudgetKey, "budget-key", cfg.BudgetKey, "Redis key of the shared budget counter")
	cmd.Flags().DurationVar(&cfg.BudgetWindow, "budget-window", cfg.BudgetWindow, "Reset the shared budget this long after its first call (0 never resets)")

	// Redis
	cmd.Flags().StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for budget, cache and redis sink")
	cmd.Flags().BoolVar(&cfg.Cache, "cache", cfg.Cache, "Cache successful responses in Redis")
	cmd.Flags().DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Response cache TTL")
	cmd.Flags().BoolVar(&cfg.CachePurge, "cache-purge", cfg.CachePurge, "Drop cached responses of this API host before the run")
}

func addSamplingFlags(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().IntVar(&cfg.MaxListCalls, "max-list-calls", cfg.MaxListCalls, "Listing calls allowed in the sampling phase")
	cmd.Flags().IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Listing page size (1-100)")
	cmd.Flags().IntVar(&cfg.MaxIssuers, "max-issuers", cfg.MaxIssuers, "Issuer codes turned into search tasks")
	cmd.Flags().IntVar(&cfg.NoNewThreshold, "no-new-threshold", cfg.NoNewThreshold, "Consecutive tasks without new ids before stopping early")
	cmd.Flags().IntVar(&cfg.MinTasksBeforeStop, "min-tasks", cfg.MinTasksBeforeStop, "Tasks processed before early stop may trigger")
	cmd.Flags().IntVar(&cfg.MinPoolSize, "min-pool", cfg.MinPoolSize, "Pool size below which the fallback scan runs")
	cmd.Flags().IntVar(&cfg.FallbackPages, "fallback-pages", cfg.FallbackPages, "Unfiltered pages visited by the fallback scan")
	cmd.Flags().IntVar(&cfg.FallbackPoolCap, "fallback-pool-cap", cfg.FallbackPoolCap, "Pool size at which the fallback scan stops")

	cmd.Flags().IntVar(&cfg.TargetCount, "target", cfg.TargetCount, "Maximum detail calls per run")
	cmd.Flags().IntVar(&cfg.SafetyMargin, "safety-margin", cfg.SafetyMargin, "Budget calls held back from the detail phase")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Detail calls in flight")
}

func addSinkFlags(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.Sink, "sink", cfg.Sink, "Record sink (file, redis, s3, postgres)")
	cmd.Flags().StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory of the file sink")
	cmd.Flags().StringVar(&cfg.RedisHash, "redis-hash", cfg.RedisHash, "Hash key of the redis sink")

	// MinIO / S3
	cmd.Flags().StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 endpoint URL (empty uses AWS)")
	cmd.Flags().StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket name")
	cmd.Flags().StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix, "S3 object key prefix")
	cmd.Flags().StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	cmd.Flags().StringVar(&cfg.S3AccessKey, "s3-access-key", cfg.S3AccessKey, "S3 access key")
	cmd.Flags().StringVar(&cfg.S3SecretKey, "s3-secret-key", cfg.S3SecretKey, "S3 secret key")

	cmd.Flags().StringVar(&cfg.PostgresURL, "database-url", cfg.PostgresURL, "PostgreSQL URL of the postgres sink")
}
