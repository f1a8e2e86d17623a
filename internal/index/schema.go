// Package index provides the SQLite-backed query cache. The cache is a pure
// function of the record store: it is discarded and fully repopulated on
// every projection, never patched incrementally.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tandas (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'active',
	file            TEXT,
	covers          TEXT NOT NULL DEFAULT '[]',
	depends_on      TEXT NOT NULL DEFAULT '[]',
	notes           TEXT NOT NULL DEFAULT '[]',
	run_history     TEXT NOT NULL DEFAULT '[]',
	flakiness_score REAL NOT NULL DEFAULT 0.0,
	last_run_at     TEXT,
	last_run_result TEXT,
	created_at      TEXT,
	updated_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_tandas_status ON tandas(status);
CREATE INDEX IF NOT EXISTS idx_tandas_file ON tandas(file);
CREATE INDEX IF NOT EXISTS idx_tandas_flakiness ON tandas(flakiness_score);
CREATE INDEX IF NOT EXISTS idx_tandas_last_run ON tandas(last_run_at);
`

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite cache and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
