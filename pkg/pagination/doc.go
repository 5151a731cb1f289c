// Package pagination provides page arithmetic and a sequential page walker for
// catalog listing endpoints.
//
// Listing responses carry a total result count rather than a page header, so
// the number of pages is derived from that count and the page size. The
// sampler uses RandomPage to spread its listing calls over a result set and
// Walker for the unfiltered fallback scan.
//
// Example usage:
//
//	pages := pagination.PageCount(250, 100) // 3
//	page := pagination.RandomPage(rng, pages)
//
//	walker := pagination.NewWalker(fetcher, pagination.Config{MaxPages: 20})
//	stats, err := walker.Walk(ctx, func(page int, payload json.RawMessage) bool {
//		return merge(payload) > 1000
//	})
//
// The walker:
//   - Fetches pages strictly in order, one at a time (every call spends budget)
//   - Skips pages that failed permanently
//   - Stops on the first fetch error (budget exhausted, cancelled context)
//   - Stops when the visitor asks it to
package pagination
