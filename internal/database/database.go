package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// Database keeps named encrypted blobs in SQLite. It satisfies blob.Backend
// for one name, chosen at construction.
type Database struct {
	db   *sql.DB
	name string
}

func NewDatabase(databasePath, name string) (*Database, error) {
	if name == "" {
		return nil, fmt.Errorf("blob name cannot be empty")
	}
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db, name: name}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS blobs(
	  name       TEXT    PRIMARY KEY,
	  payload    BLOB    NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := d.db.QueryRowContext(ctx, `SELECT payload FROM blobs WHERE name = ?`, d.name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %q: %w", d.name, err)
	}
	return payload, nil
}

// Save replaces the blob inside a transaction so readers never observe a
// half-written row.
func (d *Database) Save(ctx context.Context, payload []byte) error {
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	_, err = transaction.ExecContext(ctx, `
	INSERT INTO blobs(name, payload, updated_at) VALUES(?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		d.name, payload, time.Now().UnixMilli())
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdatedAt reports when the blob was last saved; zero if it never was.
func (d *Database) UpdatedAt(ctx context.Context) (time.Time, error) {
	var millis int64
	err := d.db.QueryRowContext(ctx, `SELECT updated_at FROM blobs WHERE name = ?`, d.name).Scan(&millis)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read blob %q: %w", d.name, err)
	}
	return time.UnixMilli(millis), nil
}
