// Package metrics provides centralized Prometheus metrics registry for the
// catalog harvester. All metrics are defined in their respective packages
// (budget, client, cache, sampler, harvester, sink) via promauto.
//
// This package provides documentation for all available metrics and the
// /metrics exposition server.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Handler returns the HTTP handler exposing the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server exposes /metrics and /health.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr and returns a server ready to Serve. Use ":0" to pick a
// free port.
func Listen(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr()).Msg("Metrics server listening")
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}

// Serve listens on addr and serves until ctx is done.
func Serve(ctx context.Context, addr string) error {
	s, err := Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Metrics Documentation
//
// Budget Metrics (pkg/budget):
//   - harvest_budget_used (Gauge): Calls issued in this run
//   - harvest_budget_remaining (Gauge): Calls still available
//   - harvest_budget_exhausted_total (Counter): Calls refused on an empty budget
//
// Cache Metrics (pkg/cache):
//   - harvest_cache_lookups_total{kind,result} (Counter): Cache lookups by endpoint kind (hit, miss, error)
//   - harvest_cache_bytes_written_total (Counter): Bytes written to the cache
//   - harvest_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - harvest_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - harvest_request_duration_seconds{endpoint} (Histogram): Call duration including retries
//   - harvest_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, malformed)
//
// Retry Metrics (pkg/client):
//   - harvest_retries_total{error_class} (Counter): Retry attempts by error class
//   - harvest_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - harvest_retry_exhausted_total{error_class} (Counter): Calls that exhausted max retries
//
// Sampling Metrics (pkg/sampler):
//   - harvest_sampler_list_calls_total{phase} (Counter): Listing calls (primary, fallback)
//   - harvest_sampler_tasks_total{strategy, result} (Counter): Search tasks by outcome
//   - harvest_sampler_pool_size (Gauge): Unique identifiers collected
//
// Harvest Metrics (pkg/harvester, pkg/sink):
//   - harvest_details_total{result} (Counter): Detail calls (saved, failed, sink_error)
//   - harvest_details_pending (Gauge): Identifiers pending a detail call
//   - harvest_sink_saves_total{sink} (Counter): Records written
//   - harvest_sink_errors_total{sink, operation} (Counter): Sink errors
//
// Example Prometheus Queries:
//
//   # Budget left
//   harvest_budget_remaining / (harvest_budget_used + harvest_budget_remaining)
//
//   # Rate limiting pressure
//   rate(harvest_retries_total{error_class="rate_limit"}[5m])
//
//   # Detail success ratio
//   sum(rate(harvest_details_total{result="saved"}[5m])) / sum(rate(harvest_details_total[5m]))
//
//   # P95 Call Latency
//   histogram_quantile(0.95, rate(harvest_request_duration_seconds_bucket[5m]))
