package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "harvest:cache"

// Key identifies one catalog response: the endpoint path plus its query.
type Key struct {
	// Endpoint is the API path, e.g. "/types" or "/types/12345".
	Endpoint string

	// Params are the query parameters, e.g. year=2020&page=1.
	Params url.Values
}

// String renders the key without prefix. Params are sorted so the same query
// always maps to the same key regardless of construction order.
//
//	types:lang=en:limit=100:page=1:year=2020
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(strings.Trim(k.Endpoint, "/"))

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(k.Params[name], ","))
	}
	return b.String()
}

// Kind classifies the endpoint for metrics: "detail" for /types/{id},
// "listing" for /types, the first path segment otherwise.
func (k Key) Kind() string {
	parts := strings.Split(strings.Trim(k.Endpoint, "/"), "/")
	switch {
	case parts[0] == "":
		return "other"
	case parts[0] == "types" && len(parts) == 1:
		return "listing"
	case parts[0] == "types":
		return "detail"
	default:
		return parts[0]
	}
}
