// Package cache keeps successful catalog responses in Redis so that a re-run
// within the TTL can replay listing and detail calls without spending request
// budget.
//
// Entries are keyed by endpoint path plus sorted query parameters and stored
// as JSON with the payload embedded verbatim, so they stay readable with
// redis-cli. Expiry is a Redis TTL. Managers created WithNamespace keep the
// caches of different API hosts apart.
//
//	manager := cache.NewManager(redisClient, cache.WithNamespace("api.numista.com"))
//
//	key := cache.Key{Endpoint: "/types", Params: url.Values{"year": {"2020"}, "page": {"1"}}}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// call the API, then
//		_ = manager.Set(ctx, key, cache.NewEntry(payload, 200), 24*time.Hour)
//	}
//
// Metrics:
//
//   - harvest_cache_lookups_total{kind,result}
//   - harvest_cache_bytes_written_total
//   - harvest_cache_errors_total{operation}
package cache
