package index

import "github.com/starford/tanda/internal/models"

// TandaIndex defines the cache operations consumed by the service and daemon.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type TandaIndex interface {
	Rebuild(tandas map[string]*models.Tanda) error
	Get(id string) (*Row, error)
	List(f Filter) ([]Row, error)
	All() (map[string]*models.Tanda, error)
	Close() error
}

// Verify *DB satisfies TandaIndex at compile time.
var _ TandaIndex = (*DB)(nil)
