package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// mockFetcher returns canned results per page.
type mockFetcher struct {
	failPages map[int]bool
	errAt     int
	calls     []int
}

func (m *mockFetcher) FetchPage(_ context.Context, page int) (json.RawMessage, bool, error) {
	m.calls = append(m.calls, page)
	if m.errAt > 0 && page == m.errAt {
		return nil, false, errors.New("budget exhausted")
	}
	if m.failPages[page] {
		return nil, false, nil
	}
	return json.RawMessage(`{"page":true}`), true, nil
}

func TestWalker_VisitsAllPagesInOrder(t *testing.T) {
	fetcher := &mockFetcher{}
	walker := NewWalker(fetcher, Config{MaxPages: 5})

	var visited []int
	stats, err := walker.Walk(context.Background(), func(page int, _ json.RawMessage) bool {
		visited = append(visited, page)
		return false
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	if len(visited) != 5 {
		t.Fatalf("visited = %v, want 5 pages", visited)
	}
	for i, page := range visited {
		if page != i+1 {
			t.Errorf("visited[%d] = %d, want %d", i, page, i+1)
		}
	}
	if stats.Fetched != 5 || stats.Skipped != 0 || stats.Stopped {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWalker_SkipsFailedPages(t *testing.T) {
	fetcher := &mockFetcher{failPages: map[int]bool{2: true, 4: true}}
	walker := NewWalker(fetcher, Config{MaxPages: 5})

	var visited []int
	stats, err := walker.Walk(context.Background(), func(page int, _ json.RawMessage) bool {
		visited = append(visited, page)
		return false
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	if len(visited) != 3 {
		t.Errorf("visited = %v, want [1 3 5]", visited)
	}
	if stats.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", stats.Skipped)
	}
	if len(fetcher.calls) != 5 {
		t.Errorf("fetch calls = %d, want 5", len(fetcher.calls))
	}
}

func TestWalker_VisitorStops(t *testing.T) {
	fetcher := &mockFetcher{}
	walker := NewWalker(fetcher, Config{MaxPages: 20})

	stats, err := walker.Walk(context.Background(), func(page int, _ json.RawMessage) bool {
		return page == 3
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if !stats.Stopped {
		t.Error("expected Stopped")
	}
	if len(fetcher.calls) != 3 {
		t.Errorf("fetch calls = %d, want 3", len(fetcher.calls))
	}
}

func TestWalker_FetchErrorEndsWalk(t *testing.T) {
	fetcher := &mockFetcher{errAt: 4}
	walker := NewWalker(fetcher, Config{MaxPages: 20})

	stats, err := walker.Walk(context.Background(), func(int, json.RawMessage) bool { return false })
	if err == nil {
		t.Fatal("expected error")
	}
	if stats.Fetched != 3 {
		t.Errorf("Fetched = %d, want 3", stats.Fetched)
	}
	if len(fetcher.calls) != 4 {
		t.Errorf("fetch calls = %d, want 4", len(fetcher.calls))
	}
}

func TestWalker_CancelledContext(t *testing.T) {
	fetcher := &mockFetcher{}
	walker := NewWalker(fetcher, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := walker.Walk(ctx, func(int, json.RawMessage) bool { return false })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("fetch calls = %d, want 0", len(fetcher.calls))
	}
}

func TestWalker_PageFetcherFunc(t *testing.T) {
	calls := 0
	f := PageFetcherFunc(func(context.Context, int) (json.RawMessage, bool, error) {
		calls++
		return json.RawMessage(`[]`), true, nil
	})

	walker := NewWalker(f, Config{MaxPages: 2})
	if _, err := walker.Walk(context.Background(), func(int, json.RawMessage) bool { return false }); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
