// Package harvester fetches full detail records for sampled identifiers and
// writes each success through to a sink.
package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for detail harvesting.
var (
	detailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_details_total",
		Help: "Total detail calls by result (saved, failed, sink_error)",
	}, []string{"result"})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_details_pending",
		Help: "Identifiers pending a detail call in the current run",
	})
)

// Executor issues catalog calls. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, path string, params url.Values) (*client.Outcome, error)
	BudgetRemaining(ctx context.Context) int
}

// Sink stores detail payloads keyed by identifier.
type Sink interface {
	Exists(ctx context.Context, id catalog.ID) (bool, error)
	Save(ctx context.Context, id catalog.ID, payload json.RawMessage) error
}

// Config holds the harvester configuration.
type Config struct {
	// DetailPath is the detail endpoint prefix; the id is appended.
	DetailPath string

	// Lang is sent as the lang parameter (empty omits it).
	Lang string

	// TargetCount caps detail attempts per run.
	TargetCount int

	// SafetyMargin is kept out of the remaining budget.
	SafetyMargin int

	// Concurrency is the number of detail calls in flight.
	Concurrency int

	// ProgressEvery logs progress every N attempts.
	ProgressEvery int
}

// DefaultConfig returns the default harvester configuration.
func DefaultConfig() Config {
	return Config{
		DetailPath:    "/types",
		Lang:          "en",
		TargetCount:   1800,
		SafetyMargin:  2,
		Concurrency:   1,
		ProgressEvery: 20,
	}
}

// Result summarises a Harvest call.
type Result struct {
	// Pending is the number of ids neither persisted nor reported by the sink.
	Pending int

	// Target is the effective number of detail attempts planned.
	Target int

	Attempted  int
	Saved      int
	Failed     int
	SinkErrors int

	// BudgetExhausted is true if the run ended on an empty budget.
	BudgetExhausted bool
}

// Harvester fetches and persists detail records.
type Harvester struct {
	exec   Executor
	sink   Sink
	config Config
	rng    *rand.Rand
	logger zerolog.Logger
}

// New creates a harvester. rng drives the fetch order; a clock-seeded source
// is used when nil.
func New(exec Executor, sink Sink, config Config, rng *rand.Rand) (*Harvester, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.DetailPath == "" {
		return nil, fmt.Errorf("detail path is required")
	}
	if config.TargetCount < 0 || config.SafetyMargin < 0 {
		return nil, fmt.Errorf("target count and safety margin must be >= 0")
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Harvester{
		exec:   exec,
		sink:   sink,
		config: config,
		rng:    rng,
		logger: log.With().Str("component", "harvester").Logger(),
	}, nil
}

// Pending returns the ids of ids that are neither in persisted nor already
// stored in the sink, in random order.
func (h *Harvester) Pending(ctx context.Context, ids, persisted catalog.IDSet) []catalog.ID {
	pending := make([]catalog.ID, 0, ids.Len())
	for _, id := range ids.Sorted() {
		if persisted.Has(id) {
			continue
		}
		exists, err := h.sink.Exists(ctx, id)
		if err != nil {
			h.logger.Warn().Err(err).Stringer("id", id).Msg("Sink existence check failed")
		}
		if exists {
			continue
		}
		pending = append(pending, id)
	}

	h.rng.Shuffle(len(pending), func(i, j int) {
		pending[i], pending[j] = pending[j], pending[i]
	})
	return pending
}

// Target returns min(pending, remaining-SafetyMargin, TargetCount), never
// negative.
func (h *Harvester) Target(pending, remaining int) int {
	target := pending
	if r := remaining - h.config.SafetyMargin; r < target {
		target = r
	}
	if h.config.TargetCount < target {
		target = h.config.TargetCount
	}
	if target < 0 {
		return 0
	}
	return target
}

// Harvest issues one detail call per pending id until the effective target
// is reached or the budget runs out. Failed calls are skipped; only context
// cancellation and budget backend failures are returned as errors.
func (h *Harvester) Harvest(ctx context.Context, ids, persisted catalog.IDSet) (Result, error) {
	start := time.Now()

	pending := h.Pending(ctx, ids, persisted)
	pendingGauge.Set(float64(len(pending)))

	res := Result{Pending: len(pending)}
	res.Target = h.Target(len(pending), h.exec.BudgetRemaining(ctx))

	h.logger.Info().
		Int("pool", ids.Len()).
		Int("already_persisted", ids.Len()-len(pending)).
		Int("pending", len(pending)).
		Int("target", res.Target).
		Int("concurrency", h.config.Concurrency).
		Msg("Starting detail harvest")

	if res.Target == 0 {
		return res, nil
	}

	var attempted, saved, failed, sinkErrors atomic.Int64
	var exhausted atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)

	for _, id := range pending[:res.Target] {
		if exhausted.Load() || gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if exhausted.Load() {
				return nil
			}

			outcome, err := h.exec.Execute(gctx, h.config.DetailPath+"/"+id.String(), h.params())
			if err != nil {
				if errors.Is(err, client.ErrBudgetExhausted) {
					exhausted.Store(true)
					return nil
				}
				return fmt.Errorf("fetch detail %s: %w", id, err)
			}

			n := attempted.Add(1)
			switch {
			case !outcome.OK():
				failed.Add(1)
				detailsTotal.WithLabelValues("failed").Inc()
				h.logger.Debug().
					Stringer("id", id).
					Int("status", outcome.StatusCode).
					Str("outcome", outcome.Kind.String()).
					Msg("Detail call failed; skipping")

			default:
				if err := h.sink.Save(gctx, id, outcome.Payload); err != nil {
					sinkErrors.Add(1)
					detailsTotal.WithLabelValues("sink_error").Inc()
					h.logger.Error().Err(err).Stringer("id", id).Msg("Failed to save record")
				} else {
					saved.Add(1)
					detailsTotal.WithLabelValues("saved").Inc()
				}
			}

			if h.config.ProgressEvery > 0 && n%int64(h.config.ProgressEvery) == 0 {
				h.logger.Info().
					Int64("processed", n).
					Int("target", res.Target).
					Int64("saved", saved.Load()).
					Int("budget_remaining", h.exec.BudgetRemaining(gctx)).
					Msg("Detail progress")
			}
			return nil
		})
	}

	err := g.Wait()

	res.Attempted = int(attempted.Load())
	res.Saved = int(saved.Load())
	res.Failed = int(failed.Load())
	res.SinkErrors = int(sinkErrors.Load())
	res.BudgetExhausted = exhausted.Load()

	h.logger.Info().
		Int("attempted", res.Attempted).
		Int("saved", res.Saved).
		Int("failed", res.Failed).
		Int("sink_errors", res.SinkErrors).
		Bool("budget_exhausted", res.BudgetExhausted).
		Dur("duration", time.Since(start)).
		Msg("Detail harvest finished")

	return res, err
}

func (h *Harvester) params() url.Values {
	if h.config.Lang == "" {
		return nil
	}
	return url.Values{"lang": {h.config.Lang}}
}
