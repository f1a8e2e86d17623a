// Package testutil provides shared test helpers for setting up registries
// and caches.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TestIndex creates a temporary SQLite cache that is automatically cleaned up.
func TestIndex(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tanda-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a JSONL record store in a temporary directory.
func TestStore(t *testing.T) *storage.JSONL {
	t.Helper()
	dir := t.TempDir()
	return storage.NewJSONL(filepath.Join(dir, "issues.jsonl"), Logger())
}
