package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/catalog-harvester/internal/config"
	"github.com/Sternrassler/catalog-harvester/internal/testutil"
)

// runHarvester executes the root command with args on top of the defaults.
func runHarvester(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := config.Default()
	cmd := newRootCmd(&cfg)

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), err
}

func newCatalog(t *testing.T, n int) *testutil.MockCatalog {
	t.Helper()
	mock := testutil.NewMockCatalog()
	t.Cleanup(mock.Close)

	ids := testutil.Sequence(1, n)
	mock.SetListing("", ids...)
	for _, id := range ids {
		mock.AddDetail(id, fmt.Sprintf(`{"id": %d, "title": "Type %d"}`, id, id))
	}
	return mock
}

// smallRun keeps the primary loop to a few calls so the fallback scan finds
// the unfiltered listing.
func smallRun(baseURL, dir string, extra ...string) []string {
	args := []string{
		"--base-url", baseURL,
		"--output-dir", dir,
		"--politeness-delay", "0s",
		"--max-list-calls", "3",
		"--min-pool", "50",
		"--fallback-pages", "1",
		"--page-size", "50",
		"--seed", "7",
		"--log-level", "error",
	}
	return append(args, extra...)
}

func TestHarvester_SavesRecords(t *testing.T) {
	mock := newCatalog(t, 30)
	dir := t.TempDir()

	out, err := runHarvester(t, smallRun(mock.URL(), dir)...)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "discovered=30 saved=30") {
		t.Errorf("output = %q, want discovered=30 saved=30", out)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 30 {
		t.Errorf("files = %d, want 30", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "type_12.json")); err != nil {
		t.Errorf("expected type_12.json: %v", err)
	}
}

func TestHarvester_RerunSkipsSavedRecords(t *testing.T) {
	mock := newCatalog(t, 30)
	dir := t.TempDir()

	if _, err := runHarvester(t, smallRun(mock.URL(), dir)...); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	details := detailRequests(mock)

	out, err := runHarvester(t, smallRun(mock.URL(), dir)...)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if !strings.Contains(out, "saved=0") {
		t.Errorf("output = %q, want saved=0", out)
	}
	if got := detailRequests(mock); got != details {
		t.Errorf("detail requests = %d after rerun, want %d", got, details)
	}
}

func TestHarvester_BudgetBoundsCalls(t *testing.T) {
	mock := newCatalog(t, 30)

	out, err := runHarvester(t, smallRun(mock.URL(), t.TempDir(), "--max-requests", "10")...)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := mock.GetRequestCount(); got > 10 {
		t.Errorf("requests = %d, want <= 10", got)
	}
	if !strings.Contains(out, "calls=") {
		t.Errorf("output = %q, want a calls summary", out)
	}
}

func TestHarvester_EmptyCatalogSucceeds(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()

	out, err := runHarvester(t, smallRun(mock.URL(), t.TempDir())...)
	if err != nil {
		t.Fatalf("Execute() error = %v, want success on empty catalog", err)
	}
	if !strings.Contains(out, "discovered=0 saved=0") {
		t.Errorf("output = %q", out)
	}
}

func TestHarvester_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"page size", []string{"--page-size", "500"}},
		{"unknown sink", []string{"--sink", "ftp"}},
		{"concurrency", []string{"--concurrency", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newCatalog(t, 5)
			args := append(smallRun(mock.URL(), t.TempDir()), tt.args...)

			if _, err := runHarvester(t, args...); err == nil {
				t.Error("expected configuration error")
			}
			if mock.GetRequestCount() != 0 {
				t.Error("no calls expected on invalid configuration")
			}
		})
	}
}

func TestHarvester_UnusableSinkFails(t *testing.T) {
	mock := newCatalog(t, 5)

	// A regular file where the output directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runHarvester(t, smallRun(mock.URL(), blocker)...)
	if err == nil {
		t.Fatal("expected sink error")
	}
	if !strings.Contains(err.Error(), "sink") {
		t.Errorf("error = %v, want sink error", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want 0 before the sink is open", mock.GetRequestCount())
	}
}

func detailRequests(mock *testutil.MockCatalog) int {
	n := 0
	for _, r := range mock.Requests() {
		if strings.HasPrefix(r.Path, "/types/") {
			n++
		}
	}
	return n
}
