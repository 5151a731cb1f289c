package client

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// maxRetryAfter is the longest server-supplied wait hint the client sits out.
// A rate-limited response asking for more is not retried.
const maxRetryAfter = time.Hour

// RetryConfig holds the backoff parameters for one error class.
type RetryConfig struct {
	// InitialBackoff is the delay after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential delay.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// JitterMin and JitterMax bound the uniform random delay added to every wait.
	JitterMin time.Duration
	JitterMax time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		JitterMin:         0,
		JitterMax:         1 * time.Second,
	}
}

// RetryConfigForErrorClass returns the appropriate retry configuration for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassRateLimit:
		// 429 - longer cap, jitter never below half a second
		return RetryConfig{
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        120 * time.Second,
			BackoffMultiplier: 2.0,
			JitterMin:         500 * time.Millisecond,
			JitterMax:         2 * time.Second,
		}
	case ErrorClassServer, ErrorClassNetwork:
		return DefaultRetryConfig()
	default:
		return DefaultRetryConfig()
	}
}

// Backoff returns the exponential delay, without jitter, after the given
// number of consecutive failures (1-based).
func (rc RetryConfig) Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := float64(rc.InitialBackoff) * math.Pow(rc.BackoffMultiplier, float64(failures-1))
	if d > float64(rc.MaxBackoff) || math.IsInf(d, 0) {
		return rc.MaxBackoff
	}
	return time.Duration(d)
}

// Jitter maps u in [0,1) onto [JitterMin, JitterMax).
func (rc RetryConfig) Jitter(u float64) time.Duration {
	span := rc.JitterMax - rc.JitterMin
	if span <= 0 {
		return rc.JitterMin
	}
	return rc.JitterMin + time.Duration(u*float64(span))
}

// retryDelay computes the wait before the next attempt. A positive rate-limit
// hint replaces the exponential delay; jitter is always added.
func retryDelay(class ErrorClass, failures int, hint time.Duration, u float64) time.Duration {
	rc := RetryConfigForErrorClass(class)
	base := rc.Backoff(failures)
	if class == ErrorClassRateLimit && hint > 0 {
		base = hint
	}
	return base + rc.Jitter(u)
}

// parseRetryAfter reads a Retry-After value given in (possibly fractional)
// seconds or as an HTTP date. Missing, invalid or non-positive values yield 0.
// Hints too large for a time.Duration saturate.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 || math.IsNaN(secs) {
			return 0
		}
		if secs >= float64(math.MaxInt64)/float64(time.Second) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(secs * float64(time.Second))
	}

	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d <= 0 {
			return 0
		}
		return d
	}

	return 0
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext is the default SleepFunc.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
