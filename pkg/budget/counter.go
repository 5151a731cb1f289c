package budget

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for budget accounting.
var (
	budgetUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_budget_used",
		Help: "Number of catalog API calls issued in this run",
	})

	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_budget_remaining",
		Help: "Number of catalog API calls still available in this run",
	})

	budgetExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_budget_exhausted_total",
		Help: "Total number of calls refused because the budget was exhausted",
	})
)

// Budget is the shared request budget.
//
// Acquire must be called exactly once per outbound HTTP attempt, immediately
// before it is sent. It either reserves one call or returns ErrExhausted.
type Budget interface {
	Acquire(ctx context.Context) error
	State(ctx context.Context) (State, error)
	Ceiling() int
}

// Counter is an in-process Budget backed by an atomic counter.
type Counter struct {
	ceiling int64
	used    atomic.Int64
}

// NewCounter creates a budget with the given ceiling. A negative ceiling is
// treated as zero.
func NewCounter(ceiling int) *Counter {
	if ceiling < 0 {
		ceiling = 0
	}
	c := &Counter{ceiling: int64(ceiling)}
	budgetRemaining.Set(float64(ceiling))
	return c
}

// Acquire reserves one call.
func (c *Counter) Acquire(_ context.Context) error {
	for {
		cur := c.used.Load()
		if cur >= c.ceiling {
			budgetExhaustedTotal.Inc()
			return ErrExhausted
		}
		if c.used.CompareAndSwap(cur, cur+1) {
			budgetUsed.Set(float64(cur + 1))
			budgetRemaining.Set(float64(c.ceiling - cur - 1))
			return nil
		}
	}
}

// State returns the current snapshot. It never fails.
func (c *Counter) State(_ context.Context) (State, error) {
	return State{Used: int(c.used.Load()), Ceiling: int(c.ceiling)}, nil
}

// Ceiling returns the configured ceiling.
func (c *Counter) Ceiling() int {
	return int(c.ceiling)
}

// Used returns the number of calls reserved so far.
func (c *Counter) Used() int {
	return int(c.used.Load())
}
