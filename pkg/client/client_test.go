package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/catalog-harvester/pkg/budget"
	"github.com/Sternrassler/catalog-harvester/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

// recordingSleeper records requested waits instead of sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

// backoffs returns recorded waits that are not the politeness delay.
func (s *recordingSleeper) backoffs(politeness time.Duration) []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, w := range s.waits {
		if w != politeness {
			out = append(out, w)
		}
	}
	return out
}

// failingBudget reports a backend failure on every operation.
type failingBudget struct{}

func (failingBudget) Acquire(context.Context) error { return errors.New("backend down") }
func (failingBudget) State(context.Context) (budget.State, error) {
	return budget.State{}, errors.New("backend down")
}
func (failingBudget) Ceiling() int { return 10 }

func newTestClient(t *testing.T, serverURL string, b budget.Budget, sleeper *recordingSleeper) *Client {
	t.Helper()

	cfg := DefaultConfig(b, "test-key")
	cfg.BaseURL = serverURL
	cfg.UserAgent = "TestApp/1.0.0 (test@example.com)"
	cfg.Sleep = sleeper.Sleep
	cfg.Rand = rand.New(rand.NewSource(1))

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	b := budget.NewCounter(10)

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "missing api key is accepted",
			mutate:      func(c *Config) { c.APIKey = "" },
			expectError: false,
		},
		{
			name:        "nil budget",
			mutate:      func(c *Config) { c.Budget = nil },
			expectError: true,
			errorMsg:    "request budget is required",
		},
		{
			name:        "empty base url",
			mutate:      func(c *Config) { c.BaseURL = "" },
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "empty user agent",
			mutate:      func(c *Config) { c.UserAgent = "" },
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name:        "negative retries",
			mutate:      func(c *Config) { c.MaxRetries = -1 },
			expectError: true,
			errorMsg:    "max_retries must be >= 0 (got -1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(b, "key")
			tt.mutate(&cfg)

			client, err := New(cfg)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Error("Expected client but got nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(budget.NewCounter(1), "k")

	if cfg.PolitenessDelay != 350*time.Millisecond {
		t.Errorf("PolitenessDelay = %v, want 350ms", cfg.PolitenessDelay)
	}
	if cfg.MaxRetries != 6 {
		t.Errorf("MaxRetries = %d, want 6", cfg.MaxRetries)
	}
	if cfg.APIKeyHeader != "Numista-API-Key" {
		t.Errorf("APIKeyHeader = %q", cfg.APIKeyHeader)
	}
}

func TestExecute_Success(t *testing.T) {
	var gotKey, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Numista-API-Key")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":1,"types":[{"id":7}]}`))
	}))
	defer server.Close()

	b := budget.NewCounter(10)
	sleeper := &recordingSleeper{}
	c := newTestClient(t, server.URL, b, sleeper)

	outcome, err := c.Execute(context.Background(), "/types", url.Values{"year": {"2020"}, "page": {"1"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !outcome.OK() {
		t.Fatalf("Kind = %v, want success", outcome.Kind)
	}
	if string(outcome.Payload) != `{"count":1,"types":[{"id":7}]}` {
		t.Errorf("Payload = %s", outcome.Payload)
	}
	if outcome.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", outcome.Attempts)
	}
	if gotKey != "test-key" {
		t.Errorf("API key header = %q, want test-key", gotKey)
	}
	if gotQuery != "page=1&year=2020" {
		t.Errorf("query = %q", gotQuery)
	}
	if b.Used() != 1 {
		t.Errorf("budget used = %d, want 1", b.Used())
	}

	sleeper.mu.Lock()
	defer sleeper.mu.Unlock()
	if len(sleeper.waits) != 1 || sleeper.waits[0] != 350*time.Millisecond {
		t.Errorf("waits = %v, want single politeness delay", sleeper.waits)
	}
}

func TestExecute_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error_message": "Type not found"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, budget.NewCounter(10), &recordingSleeper{})

	outcome, err := c.Execute(context.Background(), "/types/999", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != OutcomePermanent {
		t.Errorf("Kind = %v, want permanent", outcome.Kind)
	}
	if outcome.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", outcome.StatusCode)
	}
	if outcome.Class != ErrorClassClient {
		t.Errorf("Class = %q, want client", outcome.Class)
	}
	var apiErr *APIError
	if !errors.As(outcome.Err, &apiErr) || apiErr.Message != "Type not found" || apiErr.Endpoint != "/types/999" {
		t.Errorf("Err = %v, want APIError for /types/999 with the API message", outcome.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestExecute_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>maintenance</html>"},
		{"null", "null"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, budget.NewCounter(10), &recordingSleeper{})

			outcome, err := c.Execute(context.Background(), "/types/1", nil)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if outcome.Kind != OutcomePermanent {
				t.Errorf("Kind = %v, want permanent", outcome.Kind)
			}
			if !errors.Is(outcome.Err, ErrMalformedResponse) {
				t.Errorf("Err = %v, want ErrMalformedResponse", outcome.Err)
			}
			if calls.Load() != 1 {
				t.Errorf("server calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestExecute_RetriesServerErrorThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	b := budget.NewCounter(10)
	sleeper := &recordingSleeper{}
	c := newTestClient(t, server.URL, b, sleeper)

	outcome, err := c.Execute(context.Background(), "/types/1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !outcome.OK() {
		t.Fatalf("Kind = %v, want success", outcome.Kind)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", outcome.Attempts)
	}
	if b.Used() != 3 {
		t.Errorf("budget used = %d, want 3 (every attempt counts)", b.Used())
	}

	backoffs := sleeper.backoffs(350 * time.Millisecond)
	if len(backoffs) != 2 {
		t.Fatalf("backoffs = %v, want 2", backoffs)
	}
	if backoffs[0] < 2*time.Second || backoffs[0] >= 3*time.Second {
		t.Errorf("first backoff = %v, want [2s, 3s)", backoffs[0])
	}
	if backoffs[1] < 4*time.Second || backoffs[1] >= 5*time.Second {
		t.Errorf("second backoff = %v, want [4s, 5s)", backoffs[1])
	}
}

func TestExecute_RateLimitHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	c := newTestClient(t, server.URL, budget.NewCounter(10), sleeper)

	outcome, err := c.Execute(context.Background(), "/types/1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !outcome.OK() {
		t.Fatalf("Kind = %v, want success", outcome.Kind)
	}

	backoffs := sleeper.backoffs(350 * time.Millisecond)
	if len(backoffs) != 1 {
		t.Fatalf("backoffs = %v, want 1", backoffs)
	}
	if backoffs[0] < 3500*time.Millisecond || backoffs[0] >= 5*time.Second {
		t.Errorf("backoff = %v, want hint plus jitter in [3.5s, 5s)", backoffs[0])
	}
}

func TestExecute_RetryAfterBeyondLimitNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7200")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	c := newTestClient(t, server.URL, budget.NewCounter(10), sleeper)

	outcome, err := c.Execute(context.Background(), "/types/1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != OutcomePermanent {
		t.Errorf("Kind = %v, want permanent", outcome.Kind)
	}
	if outcome.RetryAfter != 2*time.Hour {
		t.Errorf("RetryAfter = %v, want 2h", outcome.RetryAfter)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if backoffs := sleeper.backoffs(350 * time.Millisecond); len(backoffs) != 0 {
		t.Errorf("backoffs = %v, want none", backoffs)
	}
}

func TestExecute_RetryCapBecomesPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, budget.NewCounter(100), &recordingSleeper{})

	outcome, err := c.Execute(context.Background(), "/types/1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != OutcomePermanent {
		t.Errorf("Kind = %v, want permanent", outcome.Kind)
	}
	if outcome.Class != ErrorClassServer {
		t.Errorf("Class = %q, want server", outcome.Class)
	}
	// one initial attempt plus MaxRetries retries
	if calls.Load() != 7 {
		t.Errorf("server calls = %d, want 7", calls.Load())
	}
}

func TestExecute_RetryCounterSharedAcrossClasses(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1)%2 == 0 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := DefaultConfig(budget.NewCounter(100), "k")
	cfg.BaseURL = server.URL
	cfg.MaxRetries = 3
	cfg.Sleep = (&recordingSleeper{}).Sleep
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	outcome, err := c.Execute(context.Background(), "/types/1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != OutcomePermanent {
		t.Errorf("Kind = %v, want permanent", outcome.Kind)
	}
	if calls.Load() != 4 {
		t.Errorf("server calls = %d, want 4", calls.Load())
	}
}

func TestExecute_NeverExceedsBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	b := budget.NewCounter(5)
	c := newTestClient(t, server.URL, b, &recordingSleeper{})

	_, err := c.Execute(context.Background(), "/types/1", nil)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("err = %v, want ErrBudgetExhausted", err)
	}
	if calls.Load() != 5 {
		t.Errorf("server calls = %d, want 5", calls.Load())
	}

	// Further calls are refused without touching the network.
	_, err = c.Execute(context.Background(), "/types/2", nil)
	if !errors.Is(err, budget.ErrExhausted) {
		t.Errorf("err = %v, want budget.ErrExhausted", err)
	}
	if calls.Load() != 5 {
		t.Errorf("server calls after exhaustion = %d, want 5", calls.Load())
	}
	if c.BudgetRemaining(context.Background()) != 0 {
		t.Errorf("BudgetRemaining = %d, want 0", c.BudgetRemaining(context.Background()))
	}
	if c.CallsIssued(context.Background()) != 5 {
		t.Errorf("CallsIssued = %d, want 5", c.CallsIssued(context.Background()))
	}
}

func TestCallsSent_PerClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	shared := budget.NewCounter(10)
	a := newTestClient(t, server.URL, shared, &recordingSleeper{})
	b := newTestClient(t, server.URL, shared, &recordingSleeper{})

	for i := 0; i < 3; i++ {
		if _, err := a.Execute(context.Background(), "/types/1", nil); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if _, err := b.Execute(context.Background(), "/types/1", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if a.CallsSent() != 3 || b.CallsSent() != 1 {
		t.Errorf("CallsSent = %d and %d, want 3 and 1", a.CallsSent(), b.CallsSent())
	}
	if a.CallsIssued(context.Background()) != 4 {
		t.Errorf("CallsIssued = %d, want 4", a.CallsIssued(context.Background()))
	}
}

func TestExecute_ZeroBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	c := newTestClient(t, server.URL, budget.NewCounter(0), sleeper)

	_, err := c.Execute(context.Background(), "/types", nil)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("err = %v, want ErrBudgetExhausted", err)
	}
	if len(sleeper.waits) != 0 {
		t.Errorf("waits = %v, want none", sleeper.waits)
	}
}

func TestExecute_BudgetBackendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, failingBudget{}, &recordingSleeper{})

	_, err := c.Execute(context.Background(), "/types", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrBudgetExhausted) {
		t.Error("backend failure must not look like exhaustion")
	}
	if c.BudgetRemaining(context.Background()) != 0 {
		t.Error("BudgetRemaining should report 0 on backend failure")
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	b := budget.NewCounter(10)
	c := newTestClient(t, server.URL, b, &recordingSleeper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Execute(ctx, "/types", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if b.Used() != 0 {
		t.Errorf("budget used = %d, want 0", b.Used())
	}
}

func TestExecute_NetworkErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	cfg := DefaultConfig(budget.NewCounter(100), "k")
	cfg.BaseURL = serverURL
	cfg.MaxRetries = 2
	cfg.Sleep = (&recordingSleeper{}).Sleep
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	outcome, err := c.Execute(context.Background(), "/types/1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != OutcomePermanent {
		t.Errorf("Kind = %v, want permanent", outcome.Kind)
	}
	if outcome.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want network", outcome.Class)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", outcome.Attempts)
	}
}

func TestExecute_CacheHitSpendsNoBudget(t *testing.T) {
	redisClient := setupTestRedis(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"id":42}`))
	}))
	defer server.Close()

	b := budget.NewCounter(10)
	cfg := DefaultConfig(b, "k")
	cfg.BaseURL = server.URL
	cfg.Cache = cache.NewManager(redisClient)
	cfg.Sleep = (&recordingSleeper{}).Sleep
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		outcome, err := c.Execute(context.Background(), "/types/42", url.Values{"lang": {"en"}})
		if err != nil {
			t.Fatalf("Execute() #%d error = %v", i, err)
		}
		if !outcome.OK() {
			t.Fatalf("Execute() #%d kind = %v", i, outcome.Kind)
		}
		if i > 0 && !outcome.Cached {
			t.Errorf("Execute() #%d should be served from cache", i)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if b.Used() != 1 {
		t.Errorf("budget used = %d, want 1", b.Used())
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/types", "/types"},
		{"/types/12345", "/types/{id}"},
		{"/issuers", "/issuers"},
		{"/types/12345/issues", "/types/{id}/issues"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := endpointLabel(tt.path); got != tt.expected {
				t.Errorf("endpointLabel(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestExecute_ConcurrentCallsRespectBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	b := budget.NewCounter(20)
	c := newTestClient(t, server.URL, b, &recordingSleeper{})

	var wg sync.WaitGroup
	var exhausted atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Execute(context.Background(), fmt.Sprintf("/types/%d", i), nil)
			if errors.Is(err, ErrBudgetExhausted) {
				exhausted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if calls.Load() != 20 {
		t.Errorf("server calls = %d, want 20", calls.Load())
	}
	if exhausted.Load() != 30 {
		t.Errorf("exhausted = %d, want 30", exhausted.Load())
	}
}
