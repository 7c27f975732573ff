// Package cache persists per-target build state in SQLite so one-shot
// rebuilds can skip targets whose content is unchanged since the last
// successful run.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS targets (
	path     TEXT PRIMARY KEY,
	output   TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	status   TEXT NOT NULL DEFAULT 'never-built',
	built_at DATETIME
);
`

// Row is one persisted target record.
type Row struct {
	Path     string
	Output   string
	Checksum string
	Status   string
	BuiltAt  time.Time
}

// Store defines the build-cache operations the scheduler depends on.
// Consumers take the interface so tests can substitute an in-memory fake.
type Store interface {
	Get(path string) (*Row, error)
	Put(r Row) error
	Delete(path string) error
	AllChecksums() (map[string]string, error)
	Close() error
}

// DB wraps a sql.DB with build-cache operations.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// Open opens (or creates) the SQLite cache and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Get returns the cached record for path, or nil if absent.
func (db *DB) Get(path string) (*Row, error) {
	var r Row
	var builtAt sql.NullTime
	err := db.conn.QueryRow(
		`SELECT path, output, checksum, status, built_at FROM targets WHERE path = ?`, path,
	).Scan(&r.Path, &r.Output, &r.Checksum, &r.Status, &builtAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", path, err)
	}
	if builtAt.Valid {
		r.BuiltAt = builtAt.Time
	}
	return &r, nil
}

// Put inserts or replaces a target record.
func (db *DB) Put(r Row) error {
	_, err := db.conn.Exec(`
		INSERT INTO targets (path, output, checksum, status, built_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			output   = excluded.output,
			checksum = excluded.checksum,
			status   = excluded.status,
			built_at = excluded.built_at
	`, r.Path, r.Output, r.Checksum, r.Status, r.BuiltAt)
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", r.Path, err)
	}
	return nil
}

// Delete removes a target record.
func (db *DB) Delete(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM targets WHERE path = ?`, path); err != nil {
		return fmt.Errorf("cache: delete %s: %w", path, err)
	}
	return nil
}

// AllChecksums returns path → checksum for every cached target.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM targets`)
	if err != nil {
		return nil, fmt.Errorf("cache: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
