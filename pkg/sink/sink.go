// Package sink persists detail records, one per identifier. Saves are
// last-write-wins, so a rerun that refetches an id simply overwrites it.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for sink operations.
var (
	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_sink_saves_total",
		Help: "Total records saved by sink",
	}, []string{"sink"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_sink_errors_total",
		Help: "Total sink errors by sink and operation",
	}, []string{"sink", "operation"})
)

// ErrUnknownSink is returned by Open for an unsupported sink kind.
var ErrUnknownSink = errors.New("unknown sink")

// Sink kinds accepted by Open.
const (
	KindFile     = "file"
	KindRedis    = "redis"
	KindS3       = "s3"
	KindPostgres = "postgres"
)

// Sink stores detail payloads keyed by identifier.
type Sink interface {
	// Exists reports whether a record for id is already stored.
	Exists(ctx context.Context, id catalog.ID) (bool, error)

	// Save stores payload for id, replacing any previous record.
	Save(ctx context.Context, id catalog.ID, payload json.RawMessage) error

	// List returns the ids of every stored record.
	List(ctx context.Context) (catalog.IDSet, error)

	Close() error
}

// recordPrefix and recordSuffix frame the object name of a record.
const (
	recordPrefix = "type_"
	recordSuffix = ".json"
)

// RecordName returns the file/object name for id, e.g. "type_12345.json".
func RecordName(id catalog.ID) string {
	return recordPrefix + id.String() + recordSuffix
}

// ParseRecordName extracts the id from a record name. Names that do not
// follow the type_<id>.json pattern are rejected.
func ParseRecordName(name string) (catalog.ID, bool) {
	if !strings.HasPrefix(name, recordPrefix) || !strings.HasSuffix(name, recordSuffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, recordPrefix), recordSuffix)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return catalog.ID(n), true
}

// prettyJSON indents payload. Invalid JSON is returned unchanged.
func prettyJSON(payload json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return payload
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func recordError(kind, operation string, err error) error {
	errorsTotal.WithLabelValues(kind, operation).Inc()
	return fmt.Errorf("%s sink %s: %w", kind, operation, err)
}
