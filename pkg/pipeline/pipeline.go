// Package pipeline wires one harvester run: issuer lookup, identifier
// sampling, persisted-id filtering, detail harvesting and the final report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
	"github.com/Sternrassler/catalog-harvester/pkg/harvester"
	"github.com/Sternrassler/catalog-harvester/pkg/sink"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Executor issues catalog calls and reports budget usage. *client.Client
// implements it.
type Executor interface {
	Execute(ctx context.Context, path string, params url.Values) (*client.Outcome, error)
	BudgetRemaining(ctx context.Context) int
	CallsSent() int
}

// Collector produces the candidate identifier pool. *sampler.Sampler
// implements it.
type Collector interface {
	Collect(ctx context.Context, issuerCodes []string) (catalog.IDSet, error)
}

// Harvester fetches details. *harvester.Harvester implements it.
type Harvester interface {
	Harvest(ctx context.Context, ids, persisted catalog.IDSet) (harvester.Result, error)
}

// Config holds the pipeline configuration.
type Config struct {
	// IssuersPath is the issuer listing endpoint. Empty skips issuer sampling.
	IssuersPath string

	// IssuersLimit is sent as the limit parameter of the issuer call.
	IssuersLimit int

	Lang string
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		IssuersPath:  "/issuers",
		IssuersLimit: 100,
		Lang:         "en",
	}
}

// Report summarises a run.
type Report struct {
	Issuers      int
	Discovered   int
	AlreadySaved int
	Pending      int
	Attempted    int
	Saved        int
	Failed       int
	SinkErrors   int

	// CallsUsed counts budget slots taken by this run's executor. Other
	// processes sharing the budget are not included.
	CallsUsed int
	Duration  time.Duration

	BudgetExhausted bool
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (r Report) MarshalZerologObject(e *zerolog.Event) {
	e.Int("issuers", r.Issuers).
		Int("discovered", r.Discovered).
		Int("already_saved", r.AlreadySaved).
		Int("pending", r.Pending).
		Int("attempted", r.Attempted).
		Int("saved", r.Saved).
		Int("failed", r.Failed).
		Int("sink_errors", r.SinkErrors).
		Int("calls_used", r.CallsUsed).
		Bool("budget_exhausted", r.BudgetExhausted).
		Dur("duration", r.Duration)
}

// Pipeline runs the harvest phases in order.
type Pipeline struct {
	exec      Executor
	collector Collector
	harvester Harvester
	sink      sink.Sink
	config    Config
	logger    zerolog.Logger
}

// New creates a pipeline.
func New(exec Executor, collector Collector, h Harvester, s sink.Sink, config Config) (*Pipeline, error) {
	if exec == nil || collector == nil || h == nil || s == nil {
		return nil, fmt.Errorf("executor, collector, harvester and sink are required")
	}
	return &Pipeline{
		exec:      exec,
		collector: collector,
		harvester: h,
		sink:      s,
		config:    config,
		logger:    log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run executes one harvest. An empty pool or zero saved records is a normal
// outcome; errors are returned only for cancellation and budget backend
// failures.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	callsBefore := p.exec.CallsSent()

	var report Report
	finish := func(err error) (Report, error) {
		report.CallsUsed = p.exec.CallsSent() - callsBefore
		report.Duration = time.Since(start)
		return report, err
	}

	issuers, err := p.FetchIssuers(ctx)
	if err != nil {
		return finish(err)
	}
	report.Issuers = len(issuers)

	ids, err := p.collector.Collect(ctx, issuers)
	if ids != nil {
		report.Discovered = ids.Len()
	}
	if err != nil {
		return finish(fmt.Errorf("collect identifiers: %w", err))
	}

	if ids.Len() == 0 {
		p.logger.Warn().Msg("No identifiers collected; nothing to harvest")
		return finish(nil)
	}

	persisted, err := p.sink.List(ctx)
	if err != nil {
		// Exists checks in the harvester still prevent refetching
		p.logger.Warn().Err(err).Msg("Failed to list persisted records")
		persisted = catalog.NewIDSet()
	}
	for id := range ids {
		if persisted.Has(id) {
			report.AlreadySaved++
		}
	}
	p.logger.Info().
		Int("discovered", report.Discovered).
		Int("already_saved", report.AlreadySaved).
		Msg("Identifier pool ready")

	res, err := p.harvester.Harvest(ctx, ids, persisted)
	report.Pending = res.Pending
	report.Attempted = res.Attempted
	report.Saved = res.Saved
	report.Failed = res.Failed
	report.SinkErrors = res.SinkErrors
	report.BudgetExhausted = res.BudgetExhausted || p.exec.BudgetRemaining(ctx) == 0
	if err != nil {
		return finish(fmt.Errorf("harvest details: %w", err))
	}

	return finish(nil)
}

// FetchIssuers returns issuer codes for issuer-based sampling. Failures are
// logged and yield no codes; only cancellation and budget backend errors are
// returned.
func (p *Pipeline) FetchIssuers(ctx context.Context) ([]string, error) {
	if p.config.IssuersPath == "" {
		return nil, nil
	}

	params := url.Values{}
	if p.config.Lang != "" {
		params.Set("lang", p.config.Lang)
	}
	if p.config.IssuersLimit > 0 {
		params.Set("limit", strconv.Itoa(p.config.IssuersLimit))
	}

	outcome, err := p.exec.Execute(ctx, p.config.IssuersPath, params)
	if err != nil {
		if errors.Is(err, client.ErrBudgetExhausted) {
			p.logger.Warn().Msg("Budget exhausted before issuer lookup")
			return nil, nil
		}
		return nil, fmt.Errorf("fetch issuers: %w", err)
	}
	if !outcome.OK() {
		p.logger.Warn().
			Int("status", outcome.StatusCode).
			Msg("Could not fetch issuers; continuing without issuer sampling")
		return nil, nil
	}

	codes := catalog.IssuerCodes(outcome.Payload)
	p.logger.Info().Int("issuers", len(codes)).Msg("Issuer codes fetched")
	return codes, nil
}
