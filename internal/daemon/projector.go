// Package daemon implements the registry synchronization daemon: a unix
// socket server that keeps the JSONL log and the SQLite cache aligned so
// foreground commands can skip local projections.
package daemon

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/starford/tanda/internal/checksum"
	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/models"
	"github.com/starford/tanda/internal/storage"
)

// Projector moves records between the log and the cache. All moves are
// serialized: the daemon never runs an import and an export concurrently.
type Projector struct {
	store  storage.Store
	idx    index.TandaIndex
	logger *slog.Logger

	mu sync.Mutex
	// logSum is the digest of the log at the last import or export. It
	// suppresses redundant rebuilds, including ones triggered by the
	// daemon's own export writes.
	logSum string
}

// NewProjector creates a projector over the given store and cache.
func NewProjector(store storage.Store, idx index.TandaIndex, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{store: store, idx: idx, logger: logger}
}

// Import rebuilds the cache from the log. Unless force is set, an unchanged
// log is skipped. It returns the record count and whether a rebuild ran.
func (p *Projector) Import(force bool) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sum, err := checksum.SumFile(p.store.Path())
	if err != nil {
		return 0, false, err
	}
	if !force && sum == p.logSum {
		return 0, false, nil
	}

	tandas, err := p.store.LoadAll()
	if err != nil {
		return 0, false, err
	}
	if err := p.idx.Rebuild(tandas); err != nil {
		return 0, false, err
	}
	p.logSum = sum
	p.logger.Debug("import: cache rebuilt", slog.Int("records", len(tandas)))
	return len(tandas), true, nil
}

// Export rewrites the log from the cache when the two diverge. The log write
// is atomic; the digest is refreshed afterwards so the export does not
// retrigger an import through the file watcher.
func (p *Projector) Export() (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached, err := p.idx.All()
	if err != nil {
		return 0, false, err
	}
	stored, err := p.store.LoadAll()
	if err != nil {
		return 0, false, err
	}
	if sameRecords(cached, stored) {
		return len(cached), false, nil
	}

	if err := p.store.RewriteAll(cached); err != nil {
		return 0, false, err
	}
	sum, err := checksum.SumFile(p.store.Path())
	if err != nil {
		return 0, false, err
	}
	p.logSum = sum
	p.logger.Info("export: log rewritten", slog.Int("records", len(cached)))
	return len(cached), true, nil
}

// sameRecords reports whether two record sets serialize identically.
func sameRecords(a, b map[string]*models.Tanda) bool {
	if len(a) != len(b) {
		return false
	}
	for id, ta := range a {
		tb, ok := b[id]
		if !ok {
			return false
		}
		da, errA := json.Marshal(ta)
		db, errB := json.Marshal(tb)
		if errA != nil || errB != nil || !bytes.Equal(da, db) {
			return false
		}
	}
	return true
}
