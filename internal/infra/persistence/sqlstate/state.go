// Package sqlstate stores JSON payloads in a single state(bucket, payload)
// table shared by the database/sql drivers.
package sqlstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Dialect captures the per-driver SQL differences.
type Dialect struct {
	Name        string
	PayloadType string
	Placeholder func(n int) string
}

// SQLite uses positional ? placeholders and a BLOB payload column.
var SQLite = Dialect{
	Name:        "sqlite",
	PayloadType: "BLOB",
	Placeholder: func(int) string { return "?" },
}

// Postgres uses numbered placeholders and a JSONB payload column.
var Postgres = Dialect{
	Name:        "postgres",
	PayloadType: "JSONB",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

// Table is a bucket/payload table on an open database.
type Table struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// Open ensures the state table exists and returns a handle to it.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Table, error) {
	if db == nil {
		return nil, errors.New("sqlstate: nil database")
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload %s NOT NULL
	)`, dialect.PayloadType)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return &Table{db: db, dialect: dialect}, nil
}

// Load returns the payload stored under bucket; ok is false when absent.
func (t *Table) Load(ctx context.Context, bucket string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT bucket, payload FROM state WHERE bucket = %s`, t.dialect.Placeholder(1))
	rows, err := t.db.QueryContext(ctx, query, bucket)
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", bucket, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, false, fmt.Errorf("scan %s: %w", bucket, err)
		}
		if name == bucket {
			return payload, true, rows.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate state: %w", err)
	}
	return nil, false, nil
}

// Save upserts payload under bucket inside a transaction.
func (t *Table) Save(ctx context.Context, bucket string, payload []byte) (retErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt := fmt.Sprintf(`INSERT INTO state(bucket,payload) VALUES(%s,%s) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
		t.dialect.Placeholder(1), t.dialect.Placeholder(2))
	if _, err := tx.ExecContext(ctx, stmt, bucket, payload); err != nil {
		return fmt.Errorf("upsert %s: %w", bucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes bucket. Deleting an absent bucket is not an error.
func (t *Table) Delete(ctx context.Context, bucket string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	stmt := fmt.Sprintf(`DELETE FROM state WHERE bucket = %s`, t.dialect.Placeholder(1))
	if _, err := t.db.ExecContext(ctx, stmt, bucket); err != nil {
		return fmt.Errorf("delete %s: %w", bucket, err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (t *Table) DB() *sql.DB { return t.db }

// Close closes the database.
func (t *Table) Close() error { return t.db.Close() }
