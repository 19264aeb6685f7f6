// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/projectpulse/pulse/internal/storage"
)

// Store implements storage.Storage on a SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
}

var _ storage.Storage = (*Store)(nil)

// New opens (creating if necessary) a SQLite database at path and ensures
// the schema exists. Use ":memory:" for an ephemeral database.
func New(ctx context.Context, path string) (*Store, error) {
	connStr := path + "?_foreign_keys=on&_busy_timeout=5000"
	if path == ":memory:" {
		// Shared cache so every pooled connection sees the same data.
		connStr = "file::memory:?mode=memory&cache=shared&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// UnderlyingDB exposes the raw handle for test fixtures.
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
