package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
)

// FileSink writes one pretty-printed JSON file per record into a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Path returns the file path of the record for id.
func (s *FileSink) Path(id catalog.ID) string {
	return filepath.Join(s.dir, RecordName(id))
}

// Exists reports whether the record file is present.
func (s *FileSink) Exists(_ context.Context, id catalog.ID) (bool, error) {
	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, recordError(KindFile, "exists", err)
}

// Save writes the record through a temp file and a rename, so readers never
// see a partial document.
func (s *FileSink) Save(_ context.Context, id catalog.ID, payload json.RawMessage) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+RecordName(id)+"-*")
	if err != nil {
		return recordError(KindFile, "save", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(prettyJSON(payload)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return recordError(KindFile, "save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return recordError(KindFile, "save", err)
	}
	if err := os.Rename(tmpName, s.Path(id)); err != nil {
		os.Remove(tmpName)
		return recordError(KindFile, "save", err)
	}

	savesTotal.WithLabelValues(KindFile).Inc()
	return nil
}

// List scans the directory for record files. Other files are ignored.
func (s *FileSink) List(_ context.Context) (catalog.IDSet, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, recordError(KindFile, "list", err)
	}

	ids := catalog.NewIDSet()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := ParseRecordName(e.Name()); ok {
			ids.Add(id)
		}
	}
	return ids, nil
}

// Close is a no-op.
func (s *FileSink) Close() error {
	return nil
}
