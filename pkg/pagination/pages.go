package pagination

import "math/rand"

// PageCount returns the number of pages needed to hold total results at size
// results per page. It is never less than 1.
func PageCount(total, size int) int {
	if total <= 0 || size <= 0 {
		return 1
	}
	return (total + size - 1) / size
}

// RandomPage picks a page uniformly from [1, pages].
func RandomPage(rng *rand.Rand, pages int) int {
	if pages <= 1 {
		return 1
	}
	return rng.Intn(pages) + 1
}
