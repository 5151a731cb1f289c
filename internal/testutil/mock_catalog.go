// Package testutil provides testing utilities for the catalog harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Request is one request received by the mock catalog.
type Request struct {
	Path  string
	Query url.Values
}

// MockCatalog is an in-memory catalog API: a paginated /types listing with
// year/q/issuer filters, /types/{id} details and /issuers.
type MockCatalog struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	details  map[int64]string
	listings map[string][]int64
	counts   map[string]int
	issuers  []string
	requests []Request
}

// NewMockCatalog creates a new mock catalog server.
func NewMockCatalog() *MockCatalog {
	mock := &MockCatalog{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		details:  make(map[int64]string),
		listings: make(map[string][]int64),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests = append(mock.requests, Request{Path: r.URL.Path, Query: r.URL.Query()})
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCatalog) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockCatalog) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// AddDetail registers the detail payload served at /types/{id}.
func (m *MockCatalog) AddDetail(id int64, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[id] = body
}

// SetListing registers the ids matching a filter such as "year=2020" or
// "q=eagle". The empty filter is the unfiltered listing.
func (m *MockCatalog) SetListing(filter string, ids ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[filter] = ids
}

// SetListingCount overrides the count reported for a filter. Pages beyond
// the registered ids come back empty.
func (m *MockCatalog) SetListingCount(filter string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[filter] = count
}

// SetIssuers registers issuer codes served at /issuers.
func (m *MockCatalog) SetIssuers(codes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issuers = codes
}

// Requests returns a copy of every request received.
func (m *MockCatalog) Requests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsTo returns the requests received for path.
func (m *MockCatalog) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range m.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCatalog) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

func (m *MockCatalog) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case r.URL.Path == "/types":
		m.listHandler(w, r)
	case strings.HasPrefix(r.URL.Path, "/types/"):
		m.detailHandler(w, r)
	case r.URL.Path == "/issuers":
		m.issuersHandler(w)
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error_message": "Not found"}`))
	}
}

func (m *MockCatalog) listHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ""
	for _, key := range []string{"year", "q", "issuer"} {
		if v := q.Get(key); v != "" {
			filter = key + "=" + v
			break
		}
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}

	m.mu.RLock()
	ids := m.listings[filter]
	count, overridden := m.counts[filter]
	m.mu.RUnlock()
	if !overridden {
		count = len(ids)
	}

	type summary struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}
	items := []summary{}
	for i := (page - 1) * limit; i < page*limit && i < len(ids); i++ {
		items = append(items, summary{ID: ids[i], Title: fmt.Sprintf("Type %d", ids[i])})
	}

	body, _ := json.Marshal(map[string]any{"count": count, "types": items})
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (m *MockCatalog) detailHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/types/"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	body, ok := m.details[id]
	m.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error_message": "Type not found"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (m *MockCatalog) issuersHandler(w http.ResponseWriter) {
	m.mu.RLock()
	codes := append([]string(nil), m.issuers...)
	m.mu.RUnlock()
	sort.Strings(codes)

	type issuer struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	list := make([]issuer, 0, len(codes))
	for _, c := range codes {
		list = append(list, issuer{Code: c, Name: strings.ToUpper(c)})
	}

	body, _ := json.Marshal(map[string]any{"count": len(list), "issuers": list})
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error_message": "Too many requests"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error_message": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewUnauthorizedResponse creates a 401 response for a missing or invalid key.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"error_message": "Invalid API key"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// Sequence returns int64 ids from start to start+n-1.
func Sequence(start int64, n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = start + int64(i)
	}
	return ids
}
