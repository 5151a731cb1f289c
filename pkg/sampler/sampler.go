// Package sampler builds a pool of candidate catalog identifiers from listing
// queries. Instead of walking result sets page by page it issues one page-1
// call per search task to learn the result count and then one call to a
// uniformly random page, trading completeness for breadth per call spent.
package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/Sternrassler/catalog-harvester/pkg/client"
	"github.com/Sternrassler/catalog-harvester/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for sampling.
var (
	listCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_sampler_list_calls_total",
		Help: "Total listing calls issued by the sampler by phase",
	}, []string{"phase"})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_sampler_tasks_total",
		Help: "Total search tasks processed by strategy and result",
	}, []string{"strategy", "result"})

	poolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_sampler_pool_size",
		Help: "Number of unique identifiers collected",
	})
)

// Executor issues catalog calls. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, path string, params url.Values) (*client.Outcome, error)
}

// Sampler collects candidate identifiers.
type Sampler struct {
	exec   Executor
	config Config
	rng    *rand.Rand
	logger zerolog.Logger
}

// New creates a sampler. rng drives task order, issuer subsampling and page
// choice; a clock-seeded source is used when nil.
func New(exec Executor, config Config, rng *rand.Rand) (*Sampler, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampler config: %w", err)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Sampler{
		exec:   exec,
		config: config,
		rng:    rng,
		logger: log.With().Str("component", "sampler").Logger(),
	}, nil
}

// run tracks the state of one Collect call.
type run struct {
	ids        catalog.IDSet
	listCalls  int
	processed  int
	noNew      int
	exhausted  bool
	lastLogged int
}

// Collect runs the primary sampling loop and, when the pool is still small,
// the fallback scan. Budget exhaustion ends collection normally; the ids
// gathered so far are always returned, also alongside an error.
func (s *Sampler) Collect(ctx context.Context, issuerCodes []string) (catalog.IDSet, error) {
	start := time.Now()
	r := &run{ids: catalog.NewIDSet()}

	tasks := s.BuildTasks(issuerCodes)
	s.logger.Info().
		Int("tasks", len(tasks)).
		Int("issuers", len(issuerCodes)).
		Int("max_list_calls", s.config.MaxListCalls).
		Msg("Starting identifier sampling")

	if err := s.sample(ctx, r, tasks); err != nil {
		return r.ids, err
	}

	if r.ids.Len() < s.config.MinPoolSize && !r.exhausted {
		if err := s.fallback(ctx, r); err != nil {
			return r.ids, err
		}
	}

	s.logger.Info().
		Int("ids", r.ids.Len()).
		Int("list_calls", r.listCalls).
		Int("tasks_processed", r.processed).
		Bool("budget_exhausted", r.exhausted).
		Dur("duration", time.Since(start)).
		Msg("Identifier sampling complete")

	return r.ids, nil
}

// BuildTasks assembles and shuffles the search task queue.
func (s *Sampler) BuildTasks(issuerCodes []string) []SearchTask {
	tasks := make([]SearchTask, 0, len(s.config.Years)+len(s.config.Keywords)+len(s.config.Letters)+s.config.MaxIssuers)

	for _, y := range s.config.Years {
		tasks = append(tasks, SearchTask{Strategy: StrategyYear, Value: strconv.Itoa(y)})
	}
	for _, kw := range s.config.Keywords {
		tasks = append(tasks, SearchTask{Strategy: StrategyQuery, Value: kw})
	}
	for _, ch := range s.config.Letters {
		tasks = append(tasks, SearchTask{Strategy: StrategyQuery, Value: ch})
	}

	codes := make([]string, 0, len(issuerCodes))
	for _, code := range issuerCodes {
		if code != "" {
			codes = append(codes, code)
		}
	}
	n := len(codes)
	if n > s.config.MaxIssuers {
		n = s.config.MaxIssuers
	}
	for _, i := range s.rng.Perm(len(codes))[:n] {
		tasks = append(tasks, SearchTask{Strategy: StrategyIssuer, Value: codes[i]})
	}

	s.rng.Shuffle(len(tasks), func(i, j int) {
		tasks[i], tasks[j] = tasks[j], tasks[i]
	})
	return tasks
}

func (s *Sampler) sample(ctx context.Context, r *run, tasks []SearchTask) error {
	for _, task := range tasks {
		if r.listCalls >= s.config.MaxListCalls {
			s.logger.Info().Int("list_calls", r.listCalls).Msg("Listing call ceiling reached")
			break
		}

		added, result, err := s.runTask(ctx, r, task)
		if err != nil {
			if errors.Is(err, client.ErrBudgetExhausted) {
				r.exhausted = true
				s.logger.Info().Int("ids", r.ids.Len()).Msg("Budget exhausted during sampling")
				return nil
			}
			return fmt.Errorf("sample %s: %w", task, err)
		}

		tasksTotal.WithLabelValues(string(task.Strategy), result).Inc()
		if result != resultMerged {
			continue
		}

		r.processed++
		if added == 0 {
			r.noNew++
		} else {
			r.noNew = 0
		}

		if r.noNew > s.config.NoNewThreshold && r.processed > s.config.MinTasksBeforeStop {
			s.logger.Info().
				Int("consecutive_no_new", r.noNew).
				Int("tasks_processed", r.processed).
				Msg("Search tasks stopped producing new ids; stopping sampling early")
			break
		}
	}
	return nil
}

// Task result labels. Only merged tasks take part in early stopping.
const (
	resultMerged = "ok"
	resultFailed = "failed"
	resultEmpty  = "empty"
	resultCapped = "capped"
)

// runTask issues the page-1 call and the random-page call for one task. It
// returns the number of new ids and a result label for metrics.
func (s *Sampler) runTask(ctx context.Context, r *run, task SearchTask) (int, string, error) {
	first, err := s.list(ctx, r, "primary", task.Params(s.config.Lang, s.config.PageSize, 1))
	if err != nil {
		return 0, "", err
	}
	if !first.OK() {
		s.logger.Debug().Str("task", task.String()).Int("status", first.StatusCode).Msg("Listing call failed; task dropped")
		return 0, resultFailed, nil
	}

	total, ok := catalog.Count(first.Payload)
	if !ok {
		return 0, resultEmpty, nil
	}

	if r.listCalls >= s.config.MaxListCalls {
		return 0, resultCapped, nil
	}

	pages := pagination.PageCount(total, s.config.PageSize)
	page := pagination.RandomPage(s.rng, pages)

	second, err := s.list(ctx, r, "primary", task.Params(s.config.Lang, s.config.PageSize, page))
	if err != nil {
		return 0, "", err
	}
	if !second.OK() {
		return 0, resultFailed, nil
	}

	added := s.merge(r, second.Payload)
	s.logger.Debug().
		Str("task", task.String()).
		Int("count", total).
		Int("pages", pages).
		Int("page", page).
		Int("new_ids", added).
		Msg("Sampled random page")
	return added, resultMerged, nil
}

// fallback scans the first pages of the unfiltered listing.
func (s *Sampler) fallback(ctx context.Context, r *run) error {
	s.logger.Info().
		Int("ids", r.ids.Len()).
		Int("min_pool_size", s.config.MinPoolSize).
		Int("pages", s.config.FallbackPages).
		Msg("Pool below minimum size; sampling unfiltered pages")

	fetcher := pagination.PageFetcherFunc(func(ctx context.Context, page int) (json.RawMessage, bool, error) {
		outcome, err := s.list(ctx, r, "fallback", listParams(s.config.Lang, s.config.PageSize, page))
		if err != nil {
			return nil, false, err
		}
		return outcome.Payload, outcome.OK(), nil
	})

	walkCfg := pagination.DefaultConfig()
	walkCfg.MaxPages = s.config.FallbackPages
	walker := pagination.NewWalker(fetcher, walkCfg)
	_, err := walker.Walk(ctx, func(page int, payload json.RawMessage) bool {
		s.merge(r, payload)
		s.logger.Debug().Int("page", page).Int("ids", r.ids.Len()).Msg("Fallback page merged")
		return r.ids.Len() > s.config.FallbackPoolCap
	})
	if errors.Is(err, client.ErrBudgetExhausted) {
		r.exhausted = true
		return nil
	}
	return err
}

func (s *Sampler) list(ctx context.Context, r *run, phase string, params url.Values) (*client.Outcome, error) {
	outcome, err := s.exec.Execute(ctx, s.config.ListPath, params)
	if err != nil {
		return nil, err
	}
	r.listCalls++
	listCallsTotal.WithLabelValues(phase).Inc()

	if s.config.ProgressEvery > 0 && r.listCalls-r.lastLogged >= s.config.ProgressEvery {
		r.lastLogged = r.listCalls
		s.logger.Info().
			Int("list_calls", r.listCalls).
			Int("ids", r.ids.Len()).
			Str("phase", phase).
			Msg("Sampling progress")
	}
	return outcome, nil
}

func (s *Sampler) merge(r *run, payload json.RawMessage) int {
	added := 0
	for _, id := range catalog.ExtractIDs(payload) {
		if r.ids.Add(id) {
			added++
		}
	}
	poolSize.Set(float64(r.ids.Len()))
	return added
}
