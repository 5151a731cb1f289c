package sampler

import (
	"net/url"
	"strconv"
)

// Strategy names the filter a SearchTask applies to the listing endpoint.
type Strategy string

const (
	// StrategyYear filters by issue year.
	StrategyYear Strategy = "year"

	// StrategyQuery is a free-text search.
	StrategyQuery Strategy = "q"

	// StrategyIssuer filters by issuer code.
	StrategyIssuer Strategy = "issuer"
)

// SearchTask is one listing query. Tasks are consumed once; failed tasks are
// dropped, never retried.
type SearchTask struct {
	Strategy Strategy
	Value    string
}

// Params returns the listing query for the given page.
func (t SearchTask) Params(lang string, pageSize, page int) url.Values {
	params := listParams(lang, pageSize, page)
	params.Set(string(t.Strategy), t.Value)
	return params
}

// String returns "strategy=value".
func (t SearchTask) String() string {
	return string(t.Strategy) + "=" + t.Value
}

func listParams(lang string, pageSize, page int) url.Values {
	params := url.Values{}
	if lang != "" {
		params.Set("lang", lang)
	}
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))
	return params
}
