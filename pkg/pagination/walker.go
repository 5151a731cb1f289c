package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds walker configuration.
type Config struct {
	// MaxPages is the last page visited (pages are 1-based).
	MaxPages int

	// ProgressEvery logs progress every N fetched pages (0 disables).
	ProgressEvery int
}

// DefaultConfig returns the fallback scan defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:      20,
		ProgressEvery: 5,
	}
}

// PageFetcher fetches a single listing page.
type PageFetcher interface {
	// FetchPage returns the payload of page. ok is false when the page failed
	// permanently and should be skipped. A non-nil error ends the walk.
	FetchPage(ctx context.Context, page int) (payload json.RawMessage, ok bool, err error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, page int) (json.RawMessage, bool, error)

// FetchPage implements PageFetcher.
func (f PageFetcherFunc) FetchPage(ctx context.Context, page int) (json.RawMessage, bool, error) {
	return f(ctx, page)
}

// VisitFunc receives every usable page. Returning true stops the walk.
type VisitFunc func(page int, payload json.RawMessage) (stop bool)

// WalkStats summarises a walk.
type WalkStats struct {
	Fetched int
	Skipped int
	Stopped bool
}

// Walker visits pages 1..MaxPages sequentially.
type Walker struct {
	fetcher PageFetcher
	config  Config
}

// NewWalker creates a new page walker.
func NewWalker(fetcher PageFetcher, config Config) *Walker {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}
	return &Walker{
		fetcher: fetcher,
		config:  config,
	}
}

// Walk fetches pages in order and hands usable ones to visit. It returns the
// stats gathered so far together with the first fetch error.
func (w *Walker) Walk(ctx context.Context, visit VisitFunc) (WalkStats, error) {
	start := time.Now()
	var stats WalkStats

	for page := 1; page <= w.config.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		payload, ok, err := w.fetcher.FetchPage(ctx, page)
		if err != nil {
			log.Debug().
				Err(err).
				Int("page", page).
				Int("fetched", stats.Fetched).
				Msg("Page walk stopped")
			return stats, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if !ok {
			stats.Skipped++
			log.Warn().Int("page", page).Msg("Page fetch failed")
			continue
		}

		stats.Fetched++
		if w.config.ProgressEvery > 0 && stats.Fetched%w.config.ProgressEvery == 0 {
			log.Info().
				Int("fetched", stats.Fetched).
				Int("total", w.config.MaxPages).
				Msg("Walk progress")
		}

		if visit(page, payload) {
			stats.Stopped = true
			break
		}
	}

	log.Debug().
		Int("pages", stats.Fetched).
		Int("skipped", stats.Skipped).
		Dur("duration", time.Since(start)).
		Msg("Walk complete")

	return stats, nil
}
