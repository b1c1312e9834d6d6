// Package persist stores schema snapshots durably: every table of a schema
// is encoded to the wire format, snappy-compressed, and written to SQLite in
// one transaction. An optional object-storage exporter mirrors persisted
// snapshots off-box.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fluxbridge/fluxbridge/internal/codec"
	"github.com/fluxbridge/fluxbridge/internal/storage"
	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Store is the SQLite-backed snapshot store.
type Store struct {
	db       *sql.DB
	exporter storage.ObjectStorage // optional, best-effort
}

const persistSchemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
	schema_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	payload BLOB NOT NULL,
	row_count INTEGER NOT NULL,
	persisted_at INTEGER NOT NULL,
	PRIMARY KEY (schema_id, table_name)
)`

// Open opens (creating if needed) the snapshot database at dbPath. The
// exporter may be nil to disable off-box mirroring.
func Open(dbPath string, exporter storage.ObjectStorage) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("persist: failed to open snapshot database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(persistSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: failed to initialize snapshot schema: %w", err)
	}
	return &Store{db: db, exporter: exporter}, nil
}

// Persist writes all tables of a schema in one transaction. If the schema is
// already persisted and overwrite is false, nothing is written and the call
// fails with types.ErrConflict.
func (s *Store) Persist(ctx context.Context, schema string, tables types.TableSet, overwrite bool) error {
	if len(tables) == 0 {
		return fmt.Errorf("persist: schema %q has no tables to persist", schema)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE schema_id = ?`, schema,
	).Scan(&existing); err != nil {
		return fmt.Errorf("persist: failed to check schema %q: %w", schema, err)
	}
	if existing > 0 {
		if !overwrite {
			return fmt.Errorf("persist: schema %q already persisted: %w", schema, types.ErrConflict)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE schema_id = ?`, schema); err != nil {
			return fmt.Errorf("persist: failed to clear schema %q: %w", schema, err)
		}
	}

	now := time.Now().Unix()
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	encoded := make(map[string][]byte, len(tables))
	for _, name := range names {
		t := tables[name]
		payload, err := codec.Encode(t)
		if err != nil {
			return fmt.Errorf("persist: failed to encode table %q of schema %q: %w", name, schema, err)
		}
		compressed := snappy.Encode(nil, payload)
		encoded[name] = compressed

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (schema_id, table_name, payload, row_count, persisted_at)
			VALUES (?, ?, ?, ?, ?)`,
			schema, name, compressed, t.NumRows(), now); err != nil {
			return fmt.Errorf("persist: failed to store table %q of schema %q: %w", name, schema, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: failed to commit schema %q: %w", schema, err)
	}
	log.Printf("persist: stored schema %q (%d tables)", schema, len(names))

	s.export(ctx, schema, encoded)
	return nil
}

// export mirrors the persisted blobs to object storage. Export failures are
// logged, not returned; durability is already guaranteed by SQLite.
func (s *Store) export(ctx context.Context, schema string, encoded map[string][]byte) {
	if s.exporter == nil {
		return
	}
	for name, blob := range encoded {
		key := fmt.Sprintf("snapshots/%s/%s.fxb", schema, name)
		if err := s.exporter.Put(ctx, key, blob); err != nil {
			log.Printf("persist: snapshot export of %s failed: %v", key, err)
		}
	}
}

// Load reads a persisted schema back into a table set. A schema with no
// persisted tables fails with types.ErrNotFound.
func (s *Store) Load(ctx context.Context, schema string) (types.TableSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, payload FROM snapshots WHERE schema_id = ? ORDER BY table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("persist: failed to query schema %q: %w", schema, err)
	}
	defer rows.Close()

	tables := make(types.TableSet)
	for rows.Next() {
		var name string
		var compressed []byte
		if err := rows.Scan(&name, &compressed); err != nil {
			return nil, fmt.Errorf("persist: failed to scan snapshot row: %w", err)
		}
		payload, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("persist: corrupt snapshot for table %q of schema %q: %w", name, schema, err)
		}
		t, err := codec.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("persist: failed to decode table %q of schema %q: %w", name, schema, err)
		}
		tables[name] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persist: failed to read schema %q: %w", schema, err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("persist: schema %q: %w", schema, types.ErrNotFound)
	}
	return tables, nil
}

// Exists reports whether a schema has a persisted snapshot.
func (s *Store) Exists(ctx context.Context, schema string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE schema_id = ?`, schema,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("persist: failed to check schema %q: %w", schema, err)
	}
	return count > 0, nil
}

// Delete removes a persisted schema. Missing schemas succeed.
func (s *Store) Delete(ctx context.Context, schema string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE schema_id = ?`, schema); err != nil {
		return fmt.Errorf("persist: failed to delete schema %q: %w", schema, err)
	}
	return nil
}

// Schemas lists persisted schema identifiers, sorted.
func (s *Store) Schemas(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT schema_id FROM snapshots ORDER BY schema_id`)
	if err != nil {
		return nil, fmt.Errorf("persist: failed to list schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, fmt.Errorf("persist: failed to scan schema row: %w", err)
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
