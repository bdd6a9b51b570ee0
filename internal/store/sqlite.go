// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: A single kv table keyed by (kind, id) with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			kind       TEXT NOT NULL,
			id         TEXT NOT NULL,
			value      BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (kind, id),
			CHECK (kind IN ('conversation', 'persona', 'model', 'settings'))
		);

		CREATE INDEX IF NOT EXISTS idx_kv_kind ON kv(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value stored under (kind, id)
func (s *SQLiteStore) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE kind = ? AND id = ?`, string(kind), id,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s %s: %w", kind, id, err)
	}
	return value, nil
}

// Put inserts or replaces the value under (kind, id).
// Replacing keeps the original row so List order is stable.
func (s *SQLiteStore) Put(ctx context.Context, kind Kind, id string, value []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (kind, id, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, string(kind), id, value, now, now)
	if err != nil {
		return fmt.Errorf("storing %s %s: %w", kind, id, err)
	}
	return nil
}

// Delete removes (kind, id). Returns ErrNotFound if nothing was stored.
func (s *SQLiteStore) Delete(ctx context.Context, kind Kind, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every value of kind in insertion order
func (s *SQLiteStore) List(ctx context.Context, kind Kind) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM kv WHERE kind = ? ORDER BY rowid`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	defer rows.Close()

	var values [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
