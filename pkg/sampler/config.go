package sampler

import (
	"fmt"
)

// DefaultYears spans recent and historical issue years.
var DefaultYears = []int{2024, 2023, 2020, 2010, 2000, 1990, 1980, 1970, 1950, 1900, 1800, 1600, 100, 0}

// DefaultKeywords are topical search terms that hit broad parts of the catalog.
var DefaultKeywords = []string{
	"eagle", "king", "queen", "cent", "dollar", "franc", "penny", "crown", "sovereign",
	"rupee", "dinar", "lei", "lira", "real", "centavo", "rand", "yen", "won", "shilling",
	"imperial", "empire", "republic",
}

// DefaultLetters are single-letter queries a..z.
var DefaultLetters = func() []string {
	letters := make([]string, 0, 26)
	for ch := 'a'; ch <= 'z'; ch++ {
		letters = append(letters, string(ch))
	}
	return letters
}()

// Config holds the sampler configuration.
type Config struct {
	// ListPath is the listing endpoint path.
	ListPath string

	// Lang is sent as the lang parameter (empty omits it).
	Lang string

	// PageSize is the listing page size (service maximum 100).
	PageSize int

	// MaxListCalls caps listing calls of the primary loop.
	MaxListCalls int

	Years    []int
	Keywords []string
	Letters  []string

	// MaxIssuers caps the number of issuer codes turned into tasks.
	MaxIssuers int

	// Early stop: more than NoNewThreshold consecutive merged random pages
	// without a new id, once more than MinTasksBeforeStop tasks were merged.
	// Failed or empty tasks do not count.
	NoNewThreshold     int
	MinTasksBeforeStop int

	// Fallback scan: runs when the pool is below MinPoolSize, visits pages
	// 1..FallbackPages and stops once the pool exceeds FallbackPoolCap.
	MinPoolSize     int
	FallbackPages   int
	FallbackPoolCap int

	// ProgressEvery logs progress every N listing calls.
	ProgressEvery int
}

// DefaultConfig returns the default sampler configuration.
func DefaultConfig() Config {
	return Config{
		ListPath:           "/types",
		Lang:               "en",
		PageSize:           100,
		MaxListCalls:       350,
		Years:              DefaultYears,
		Keywords:           DefaultKeywords,
		Letters:            DefaultLetters,
		MaxIssuers:         200,
		NoNewThreshold:     40,
		MinTasksBeforeStop: 40,
		MinPoolSize:        200,
		FallbackPages:      20,
		FallbackPoolCap:    1000,
		ProgressEvery:      10,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ListPath == "" {
		return fmt.Errorf("list path is required")
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		return fmt.Errorf("page size must be in [1, 100] (got %d)", c.PageSize)
	}
	if c.MaxListCalls < 0 {
		return fmt.Errorf("max list calls must be >= 0 (got %d)", c.MaxListCalls)
	}
	if c.MaxIssuers < 0 {
		return fmt.Errorf("max issuers must be >= 0 (got %d)", c.MaxIssuers)
	}
	if c.NoNewThreshold < 0 || c.MinTasksBeforeStop < 0 {
		return fmt.Errorf("early stop thresholds must be >= 0")
	}
	if c.MinPoolSize < 0 || c.FallbackPages < 0 || c.FallbackPoolCap < 0 {
		return fmt.Errorf("fallback settings must be >= 0")
	}
	return nil
}
