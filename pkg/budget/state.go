// Package budget implements the process-wide request budget shared by every
// component that talks to the catalog API. A budget is a monotonically
// increasing counter of issued calls compared against a fixed ceiling; the
// only mutation is an atomic check-and-increment, so the ceiling holds even
// when calls are issued from several goroutines or processes.
package budget

import (
	"errors"
)

// ErrExhausted is returned by Acquire once the ceiling has been reached.
var ErrExhausted = errors.New("request budget exhausted")

// LowWatermark is the fraction of the ceiling below which a budget is
// reported as running low.
const LowWatermark = 0.10

// State is a point-in-time snapshot of a budget.
type State struct {
	// Used is the number of calls issued so far.
	Used int `json:"used"`

	// Ceiling is the maximum number of calls for the run.
	Ceiling int `json:"ceiling"`
}

// Remaining returns the number of calls still available, never negative.
func (s State) Remaining() int {
	if s.Used >= s.Ceiling {
		return 0
	}
	return s.Ceiling - s.Used
}

// Exhausted returns true if no further calls may be issued.
func (s State) Exhausted() bool {
	return s.Remaining() == 0
}

// IsLow returns true if less than LowWatermark of the ceiling remains.
func (s State) IsLow() bool {
	if s.Ceiling <= 0 {
		return true
	}
	return float64(s.Remaining()) < float64(s.Ceiling)*LowWatermark
}
