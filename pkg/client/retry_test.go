package client

import (
	"context"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.InitialBackoff != 2*time.Second {
		t.Errorf("InitialBackoff = %v, want 2s", config.InitialBackoff)
	}
	if config.MaxBackoff != 60*time.Second {
		t.Errorf("MaxBackoff = %v, want 60s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
	if config.JitterMin != 0 || config.JitterMax != time.Second {
		t.Errorf("Jitter = [%v, %v), want [0, 1s)", config.JitterMin, config.JitterMax)
	}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	tests := []struct {
		name            string
		errorClass      ErrorClass
		expectedMax     time.Duration
		expectedJitterL time.Duration
		expectedJitterH time.Duration
	}{
		{
			name:            "server error config",
			errorClass:      ErrorClassServer,
			expectedMax:     60 * time.Second,
			expectedJitterL: 0,
			expectedJitterH: time.Second,
		},
		{
			name:            "network error config",
			errorClass:      ErrorClassNetwork,
			expectedMax:     60 * time.Second,
			expectedJitterL: 0,
			expectedJitterH: time.Second,
		},
		{
			name:            "rate limit config",
			errorClass:      ErrorClassRateLimit,
			expectedMax:     120 * time.Second,
			expectedJitterL: 500 * time.Millisecond,
			expectedJitterH: 2 * time.Second,
		},
		{
			name:            "unknown error class uses default",
			errorClass:      "",
			expectedMax:     60 * time.Second,
			expectedJitterL: 0,
			expectedJitterH: time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := RetryConfigForErrorClass(tt.errorClass)
			if config.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", config.MaxBackoff, tt.expectedMax)
			}
			if config.JitterMin != tt.expectedJitterL || config.JitterMax != tt.expectedJitterH {
				t.Errorf("Jitter = [%v, %v), want [%v, %v)",
					config.JitterMin, config.JitterMax, tt.expectedJitterL, tt.expectedJitterH)
			}
		})
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	server := RetryConfigForErrorClass(ErrorClassServer)
	rateLimit := RetryConfigForErrorClass(ErrorClassRateLimit)

	tests := []struct {
		name     string
		config   RetryConfig
		failures int
		expected time.Duration
	}{
		{"first failure", server, 1, 2 * time.Second},
		{"second failure", server, 2, 4 * time.Second},
		{"fifth failure", server, 5, 32 * time.Second},
		{"server capped at 60s", server, 6, 60 * time.Second},
		{"rate limit sixth failure", rateLimit, 6, 64 * time.Second},
		{"rate limit capped at 120s", rateLimit, 7, 120 * time.Second},
		{"zero treated as first", server, 0, 2 * time.Second},
		{"huge exponent stays capped", server, 5000, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.Backoff(tt.failures); got != tt.expected {
				t.Errorf("Backoff(%d) = %v, want %v", tt.failures, got, tt.expected)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		class    ErrorClass
		failures int
		hint     time.Duration
		u        float64
		min, max time.Duration
	}{
		{
			name:     "rate limit with hint waits hint plus jitter",
			class:    ErrorClassRateLimit,
			failures: 1,
			hint:     3 * time.Second,
			u:        0,
			min:      3500 * time.Millisecond,
			max:      3500 * time.Millisecond,
		},
		{
			name:     "rate limit hint ignores failure count",
			class:    ErrorClassRateLimit,
			failures: 5,
			hint:     time.Second,
			u:        0.999,
			min:      1500 * time.Millisecond,
			max:      3 * time.Second,
		},
		{
			name:     "rate limit without hint uses exponential",
			class:    ErrorClassRateLimit,
			failures: 3,
			u:        0,
			min:      8500 * time.Millisecond,
			max:      8500 * time.Millisecond,
		},
		{
			name:     "server error ignores hint",
			class:    ErrorClassServer,
			failures: 2,
			hint:     30 * time.Second,
			u:        0.5,
			min:      4500 * time.Millisecond,
			max:      4500 * time.Millisecond,
		},
		{
			name:     "network error capped plus jitter",
			class:    ErrorClassNetwork,
			failures: 10,
			u:        0.999,
			min:      60 * time.Second,
			max:      61 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retryDelay(tt.class, tt.failures, tt.hint, tt.u)
			if got < tt.min || got > tt.max {
				t.Errorf("retryDelay() = %v, want in [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{"empty", "", 0},
		{"integer seconds", "3", 3 * time.Second},
		{"fractional seconds", "1.5", 1500 * time.Millisecond},
		{"whitespace", "  2 ", 2 * time.Second},
		{"zero", "0", 0},
		{"negative", "-5", 0},
		{"garbage", "soon", 0},
		{"long hint kept", "86400", 24 * time.Hour},
		{"overflow saturates", "1e30", time.Duration(math.MaxInt64)},
		{"http date", now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{"http date in past", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"http date far future", now.Add(48 * time.Hour).Format(http.TimeFormat), 48 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.expected {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext should return immediately on cancelled context")
	}
}

func TestSleepContext_Elapses(t *testing.T) {
	if err := sleepContext(context.Background(), 5*time.Millisecond); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}
