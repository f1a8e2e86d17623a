package tandaservice

import (
	"github.com/starford/tanda/internal/bridge"
	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/models"
)

// Synchronizer brings the query cache in line with a record set. Callers
// depend only on this interface; whether the projection happens in-process or
// in the daemon is an implementation detail.
type Synchronizer interface {
	Project(tandas map[string]*models.Tanda) error
}

// LocalSync projects into the SQLite cache in-process. It is always
// available and idempotent.
type LocalSync struct {
	idx index.TandaIndex
}

// NewLocalSync creates the in-process synchronizer.
func NewLocalSync(idx index.TandaIndex) *LocalSync {
	return &LocalSync{idx: idx}
}

// Project rebuilds the cache from the given record set.
func (l *LocalSync) Project(tandas map[string]*models.Tanda) error {
	return l.idx.Rebuild(tandas)
}

// BridgeSync asks the daemon to perform the projection and falls back to the
// local synchronizer on any failure. Bridge trouble never propagates: the
// fallback is the correctness path, the daemon only an accelerator.
type BridgeSync struct {
	client   *bridge.Client
	fallback Synchronizer
}

// NewBridgeSync creates a synchronizer that prefers the daemon.
func NewBridgeSync(client *bridge.Client, fallback Synchronizer) *BridgeSync {
	return &BridgeSync{client: client, fallback: fallback}
}

// Project triggers a remote import when a daemon is reachable, otherwise
// projects locally. A confirmed remote import is not re-verified.
func (b *BridgeSync) Project(tandas map[string]*models.Tanda) error {
	if b.client != nil && b.client.TryImport() {
		return nil
	}
	return b.fallback.Project(tandas)
}
