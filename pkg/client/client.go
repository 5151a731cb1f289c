// Package client provides the catalog API request executor: the only
// component that talks to the network. Every call goes through the shared
// request budget, a fixed politeness delay and a bounded retry/backoff
// state machine, and ends as a normalised Outcome.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/catalog-harvester/pkg/budget"
	"github.com/Sternrassler/catalog-harvester/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for catalog client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total catalog API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_request_duration_seconds",
		Help:    "Catalog call duration in seconds by endpoint, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_errors_total",
		Help: "Total catalog API errors by class",
	}, []string{"class"})
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 32 << 20

// ErrorClass represents a classification of failed calls.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed represents a success status with an unusable body.
	ErrorClassMalformed ErrorClass = "malformed"
)

// Client executes catalog API calls.
type Client struct {
	httpClient *http.Client
	budget     budget.Budget
	cache      *cache.Manager
	config     Config
	sleep      SleepFunc
	logger     zerolog.Logger

	// sent counts budget slots taken by this client only.
	sent atomic.Int64

	randMu sync.Mutex
	rand   *rand.Rand
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.numista.com/api/v3".
	BaseURL string

	// APIKey is sent in the APIKeyHeader header. A missing key is not
	// rejected here; the API answers with a permanent 401.
	APIKey       string
	APIKeyHeader string

	// UserAgent header (REQUIRED)
	UserAgent string

	// Budget is the shared request budget (REQUIRED).
	Budget budget.Budget

	// Cache optionally serves successful GETs without spending budget.
	Cache    *cache.Manager
	CacheTTL time.Duration

	// PolitenessDelay is slept before every HTTP attempt.
	PolitenessDelay time.Duration

	// MaxRetries caps retries of transient failures per call.
	MaxRetries int

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// Sleep replaces the real sleep (tests).
	Sleep SleepFunc

	// Rand is the jitter source; seeded from the clock when nil.
	Rand *rand.Rand
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(b budget.Budget, apiKey string) Config {
	return Config{
		BaseURL:         "https://api.numista.com/api/v3",
		APIKey:          apiKey,
		APIKeyHeader:    "Numista-API-Key",
		UserAgent:       "catalog-harvester/0.1.0",
		Budget:          b,
		CacheTTL:        24 * time.Hour,
		PolitenessDelay: 350 * time.Millisecond,
		MaxRetries:      6,
		Timeout:         30 * time.Second,
	}
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.Budget == nil {
		return nil, fmt.Errorf("request budget is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.PolitenessDelay < 0 {
		return nil, fmt.Errorf("politeness_delay must be >= 0 (got %s)", cfg.PolitenessDelay)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	logger := log.With().Str("component", "catalog-client").Logger()
	if cfg.APIKey == "" {
		logger.Warn().Msg("No API key configured; authenticated endpoints will fail permanently")
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		budget: cfg.Budget,
		cache:  cfg.Cache,
		config: cfg,
		sleep:  sleep,
		logger: logger,
		rand:   rng,
	}, nil
}

// Execute performs one logical GET call against path with the given query
// parameters, applying the budget, politeness delay and retry policy.
//
// The returned Outcome is either OutcomeSuccess or OutcomePermanent. A
// non-nil error means no further calls may be issued: the budget is
// exhausted (ErrBudgetExhausted), the budget backend failed, or ctx is done.
func (c *Client) Execute(ctx context.Context, path string, params url.Values) (*Outcome, error) {
	endpoint := endpointLabel(path)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	cacheKey := cache.Key{Endpoint: path, Params: params}
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		if err == nil {
			requestsTotal.WithLabelValues(endpoint, "cached").Inc()
			c.logger.Debug().Str("endpoint", path).Dur("age", entry.Age()).Msg("Served from cache")
			return &Outcome{
				Kind:       OutcomeSuccess,
				StatusCode: entry.StatusCode,
				Payload:    entry.Payload,
				Cached:     true,
			}, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", path).Msg("Cache get error")
		}
	}

	failures := 0
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Fail fast before sleeping when nothing is left.
		if state, err := c.budget.State(ctx); err == nil && state.Exhausted() {
			return nil, ErrBudgetExhausted
		}

		if err := c.sleep(ctx, c.config.PolitenessDelay); err != nil {
			return nil, err
		}

		if err := c.budget.Acquire(ctx); err != nil {
			if errors.Is(err, budget.ErrExhausted) {
				c.logger.Info().Str("endpoint", path).Msg("Request budget exhausted")
				return nil, ErrBudgetExhausted
			}
			c.logger.Error().Err(err).Msg("Budget check failed")
			return nil, fmt.Errorf("budget check: %w", err)
		}

		c.sent.Add(1)
		attempts++
		outcome := c.attempt(ctx, path, params)
		outcome.Attempts = attempts

		switch outcome.Kind {
		case OutcomeSuccess:
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(outcome.StatusCode)).Inc()
			if failures > 0 {
				c.logger.Info().
					Str("endpoint", path).
					Int("attempt", attempts).
					Msg("Request succeeded after retry")
			}
			c.store(ctx, cacheKey, outcome)
			return outcome, nil

		case OutcomePermanent:
			c.recordFailure(endpoint, outcome)
			c.logger.Warn().
				Str("endpoint", path).
				Int("status", outcome.StatusCode).
				Str("error_class", string(outcome.Class)).
				Err(outcome.Err).
				Msg("Request failed permanently")
			return outcome, nil
		}

		// Retryable
		c.recordFailure(endpoint, outcome)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		failures++
		if failures > c.config.MaxRetries {
			retryExhaustedTotal.WithLabelValues(string(outcome.Class)).Inc()
			c.logger.Warn().
				Str("endpoint", path).
				Str("error_class", string(outcome.Class)).
				Int("max_retries", c.config.MaxRetries).
				Msg("Retry attempts exhausted")
			outcome.Kind = OutcomePermanent
			return outcome, nil
		}

		delay := retryDelay(outcome.Class, failures, outcome.RetryAfter, c.jitterSample())
		retriesTotal.WithLabelValues(string(outcome.Class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(outcome.Class)).Observe(delay.Seconds())

		c.logger.Warn().
			Str("endpoint", path).
			Int("status", outcome.StatusCode).
			Str("error_class", string(outcome.Class)).
			Dur("retry_after", outcome.RetryAfter).
			Dur("backoff", delay).
			Int("failures", failures).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt sends exactly one HTTP request and classifies the result.
func (c *Client) attempt(ctx context.Context, path string, params url.Values) *Outcome {
	target := c.config.BaseURL + path
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &Outcome{
			Kind:  OutcomePermanent,
			Class: ErrorClassClient,
			Err:   fmt.Errorf("create request: %w", err),
		}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	c.logger.Debug().Str("endpoint", path).Str("query", req.URL.RawQuery).Msg("Executing catalog request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Outcome{
			Kind:  OutcomeRetryable,
			Class: c.classifyError(nil, err),
			Err:   &APIError{Endpoint: path, ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err},
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	class := c.classifyError(resp, nil)
	switch class {
	case "":
		if readErr != nil {
			return &Outcome{
				Kind:       OutcomeRetryable,
				StatusCode: resp.StatusCode,
				Class:      ErrorClassNetwork,
				Err:        &APIError{Endpoint: path, StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: readErr},
			}
		}
		if !usablePayload(body) {
			return &Outcome{
				Kind:       OutcomePermanent,
				StatusCode: resp.StatusCode,
				Class:      ErrorClassMalformed,
				Err:        &APIError{Endpoint: path, StatusCode: resp.StatusCode, ErrorClass: ErrorClassMalformed, Message: resp.Status, Err: ErrMalformedResponse},
			}
		}
		return &Outcome{
			Kind:       OutcomeSuccess,
			StatusCode: resp.StatusCode,
			Payload:    json.RawMessage(body),
		}

	case ErrorClassRateLimit:
		hint := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		kind := OutcomeRetryable
		if hint > maxRetryAfter {
			kind = OutcomePermanent
		}
		return &Outcome{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Class:      class,
			RetryAfter: hint,
			Err:        newAPIError(path, resp.StatusCode, class, resp.Status, body),
		}
	}

	kind := OutcomePermanent
	if retryable(class) {
		kind = OutcomeRetryable
	}
	return &Outcome{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Class:      class,
		Err:        newAPIError(path, resp.StatusCode, class, resp.Status, body),
	}
}

// classifyError categorizes a failed attempt. Successful responses map to "".
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ""
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		// 1xx/3xx never reach us (the transport follows redirects), 4xx are final
		return ErrorClassClient
	}
}

func (c *Client) recordFailure(endpoint string, o *Outcome) {
	errorsTotal.WithLabelValues(string(o.Class)).Inc()
	status := "network_error"
	if o.StatusCode > 0 {
		status = strconv.Itoa(o.StatusCode)
	}
	requestsTotal.WithLabelValues(endpoint, status).Inc()
}

func (c *Client) store(ctx context.Context, key cache.Key, o *Outcome) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, cache.NewEntry(o.Payload, o.StatusCode), c.config.CacheTTL); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache response")
	}
}

func (c *Client) jitterSample() float64 {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return c.rand.Float64()
}

// BudgetRemaining returns the number of calls still available. A budget
// backend error is reported as zero so callers stop issuing calls.
func (c *Client) BudgetRemaining(ctx context.Context) int {
	state, err := c.budget.State(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to read request budget")
		return 0
	}
	return state.Remaining()
}

// CallsIssued returns the number of calls counted against the budget. With a
// shared budget this includes calls made by other processes.
func (c *Client) CallsIssued(ctx context.Context) int {
	state, err := c.budget.State(ctx)
	if err != nil {
		return 0
	}
	return state.Used
}

// CallsSent returns the number of budget slots this client has taken.
func (c *Client) CallsSent() int {
	return int(c.sent.Load())
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// usablePayload reports whether body is a JSON document other than null.
func usablePayload(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return trimmed != "" && trimmed != "null" && json.Valid(body)
}

// endpointLabel collapses numeric path segments so metric cardinality stays
// bounded: "/types/12345" becomes "/types/{id}".
func endpointLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
