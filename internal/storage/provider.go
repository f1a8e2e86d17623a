// Package storage implements the authoritative record store: an append-style
// JSONL log that is the sole source of truth for the registry.
package storage

import "github.com/starford/tanda/internal/models"

// Store is the interface for record-log operations. The SQLite cache is
// always derived from a Store; nothing else writes truth.
type Store interface {
	// LoadAll reads the full log. Malformed lines are skipped, not fatal.
	LoadAll() (map[string]*models.Tanda, error)
	// Append writes one new record as a single line (first-time creation).
	Append(t *models.Tanda) error
	// RewriteAll atomically replaces the entire log (any update path).
	RewriteAll(tandas map[string]*models.Tanda) error
	// Path returns the location of the underlying log file.
	Path() string
}
