package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/catalog-harvester/pkg/catalog"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPostgresTable is the table holding records.
const DefaultPostgresTable = "catalog_records"

// PostgresSink stores records in a JSONB column keyed by id.
type PostgresSink struct {
	db    *pgxpool.Pool
	table string
	owned bool
}

// NewPostgresSink connects to databaseURL and creates the table if needed.
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresSink{db: db, table: DefaultPostgresTable, owned: true}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSinkFromPool wraps an existing pool. The caller owns the pool.
func NewPostgresSinkFromPool(db *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{db: db, table: DefaultPostgresTable}
}

// Migrate creates the records table.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			id         BIGINT PRIMARY KEY,
			payload    JSONB NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return recordError(KindPostgres, "migrate", err)
	}
	return nil
}

// Exists checks for a row with id.
func (s *PostgresSink) Exists(ctx context.Context, id catalog.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table+` WHERE id = $1)`, int64(id)).Scan(&exists)
	if err != nil {
		return false, recordError(KindPostgres, "exists", err)
	}
	return exists, nil
}

// Save upserts the record.
func (s *PostgresSink) Save(ctx context.Context, id catalog.ID, payload json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+s.table+` (id, payload, fetched_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`,
		int64(id), string(payload))
	if err != nil {
		return recordError(KindPostgres, "save", err)
	}
	savesTotal.WithLabelValues(KindPostgres).Inc()
	return nil
}

// Load returns the stored payload for id.
func (s *PostgresSink) Load(ctx context.Context, id catalog.ID) (json.RawMessage, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM `+s.table+` WHERE id = $1`, int64(id)).Scan(&payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

// List returns every stored id.
func (s *PostgresSink) List(ctx context.Context) (catalog.IDSet, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM `+s.table)
	if err != nil {
		return nil, recordError(KindPostgres, "list", err)
	}
	defer rows.Close()

	ids := catalog.NewIDSet()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, recordError(KindPostgres, "list", err)
		}
		ids.Add(catalog.ID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, recordError(KindPostgres, "list", err)
	}
	return ids, nil
}

// Close closes the pool if the sink created it.
func (s *PostgresSink) Close() error {
	if s.owned {
		s.db.Close()
	}
	return nil
}
