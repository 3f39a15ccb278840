// Package sqlite persists caller-owned state in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"evalgrid/internal/infra/persistence/sqlstate"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultPath is used when no path is configured.
const DefaultPath = "evalgrid.db"

// Store is a state table in a SQLite database file.
type Store struct {
	*sqlstate.Table
	path string
}

// NewStore opens (creating when needed) the database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the state table is tiny
	db.SetMaxOpenConns(1)
	table, err := sqlstate.Open(ctx, db, sqlstate.SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Table: table, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
