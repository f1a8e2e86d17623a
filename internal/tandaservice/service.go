// Package tandaservice implements the registry's core operations over the
// record store, the query cache, and the synchronization bridge. All
// scheduling and state-machine decisions read fresh from the store, never
// from the cache.
package tandaservice

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/tanda/internal/apperr"
	"github.com/starford/tanda/internal/health"
	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/models"
	"github.com/starford/tanda/internal/scheduler"
	"github.com/starford/tanda/internal/storage"
)

// Service coordinates record mutations and queries.
type Service struct {
	store  storage.Store
	idx    index.TandaIndex
	sync   Synchronizer
	logger *slog.Logger
}

// New creates a service. sync decides whether projections run locally or via
// the daemon.
func New(store storage.Store, idx index.TandaIndex, sync Synchronizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, idx: idx, sync: sync, logger: logger}
}

// Create registers a new tanda: one atomic append to the log, then a cache
// projection.
func (s *Service) Create(title string, status models.Status, file string, covers []string) (*models.Tanda, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is empty", apperr.ErrValidation)
	}
	if status == "" {
		status = models.StatusActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", apperr.ErrValidation, status)
	}
	if covers == nil {
		covers = []string{}
	}

	t := models.NewTanda(title, status, file, covers)
	if err := s.store.Append(t); err != nil {
		return nil, err
	}
	s.projectCache()
	return t, nil
}

// Get resolves an id (full or unique suffix) against the store.
func (s *Service) Get(idOrSuffix string) (*models.Tanda, error) {
	tandas, err := s.store.LoadAll()
	if err != nil {
		return nil, err
	}
	id, err := Resolve(tandas, idOrSuffix)
	if err != nil {
		return nil, err
	}
	return tandas[id], nil
}

// List queries the cache. Staleness is acceptable here: listing is a display
// concern, and the cache is refreshed on every mutation.
func (s *Service) List(f index.Filter) ([]index.Row, error) {
	return s.idx.List(f)
}

// Update applies any combination of field changes to a record.
type Update struct {
	Status models.Status // "" leaves status unchanged
	Note   string
	File   string
	Covers []string // nil leaves covers unchanged
}

// Update mutates a record and rewrites the log atomically. Validation happens
// before any write; an invalid request leaves the store untouched.
func (s *Service) Update(idOrSuffix string, u Update) (*models.Tanda, error) {
	if u.Status != "" && !u.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", apperr.ErrValidation, u.Status)
	}

	return s.mutate(idOrSuffix, func(t *models.Tanda, _ map[string]*models.Tanda) error {
		if u.Status != "" {
			t.Status = u.Status
		}
		if u.Note != "" {
			t.Notes = append(t.Notes, models.Note{Timestamp: models.Now(), Kind: "note", Text: u.Note})
		}
		if u.File != "" {
			t.File = u.File
		}
		if u.Covers != nil {
			t.Covers = u.Covers
		}
		return nil
	})
}

// RunOutcome reports the effect of recording a run.
type RunOutcome struct {
	Tanda      *models.Tanda
	Score      float64
	Transition bool
	From, To   models.Status
}

// RecordRun appends a run entry and drives the flakiness state machine.
func (s *Service) RecordRun(idOrSuffix, result, duration, trace string) (*RunOutcome, error) {
	if !models.ValidResult(result) {
		return nil, fmt.Errorf("%w: invalid run result %q", apperr.ErrValidation, result)
	}

	outcome := &RunOutcome{}
	t, err := s.mutate(idOrSuffix, func(t *models.Tanda, _ map[string]*models.Tanda) error {
		t.RunHistory = append(t.RunHistory, models.RunEntry{
			Timestamp: models.Now(),
			Result:    result,
			Duration:  duration,
			Trace:     trace,
		})
		outcome.From = t.Status
		next, changed := health.NextStatus(t.Status, t.RunHistory)
		if changed {
			t.Status = next
		}
		outcome.To = next
		outcome.Transition = changed
		outcome.Score = health.Score(t.RunHistory)
		return nil
	})
	if err != nil {
		return nil, err
	}
	outcome.Tanda = t
	return outcome, nil
}

// LinkTrace attaches a trace file to a record as a run entry with an optional
// note. Unlike RecordRun it does not re-evaluate the state machine.
func (s *Service) LinkTrace(idOrSuffix, tracePath, result, duration, note string) (*models.Tanda, error) {
	return s.mutate(idOrSuffix, func(t *models.Tanda, _ map[string]*models.Tanda) error {
		t.RunHistory = append(t.RunHistory, models.RunEntry{
			Timestamp: models.Now(),
			Result:    result,
			Duration:  duration,
			Trace:     tracePath,
		})
		if note != "" {
			t.Notes = append(t.Notes, models.Note{Timestamp: models.Now(), Kind: "trace", Text: note})
		}
		return nil
	})
}

// AddDependency makes the record depend on another existing record. The
// target must resolve; self-dependencies and duplicates are rejected before
// any write.
func (s *Service) AddDependency(idOrSuffix, depOrSuffix string) (*models.Tanda, string, error) {
	var depID string
	t, err := s.mutate(idOrSuffix, func(t *models.Tanda, all map[string]*models.Tanda) error {
		var err error
		depID, err = Resolve(all, depOrSuffix)
		if err != nil {
			return fmt.Errorf("dependency %q: %w", depOrSuffix, err)
		}
		if depID == t.ID {
			return fmt.Errorf("%w: %s cannot depend on itself", apperr.ErrValidation, t.ID)
		}
		if t.DependsOnID(depID) {
			return fmt.Errorf("%s already depends on %s: %w", t.ID, depID, apperr.ErrAlreadyExists)
		}
		t.DependsOn = append(t.DependsOn, depID)
		return nil
	})
	return t, depID, err
}

// RemoveDependency drops an edge. The target may be a dangling id that no
// longer resolves; the literal value is matched in that case.
func (s *Service) RemoveDependency(idOrSuffix, depOrSuffix string) (*models.Tanda, string, error) {
	var depID string
	t, err := s.mutate(idOrSuffix, func(t *models.Tanda, all map[string]*models.Tanda) error {
		depID = depOrSuffix
		if resolved, err := Resolve(all, depOrSuffix); err == nil {
			depID = resolved
		}
		if !t.DependsOnID(depID) {
			return fmt.Errorf("%s does not depend on %s: %w", t.ID, depID, apperr.ErrNotFound)
		}
		deps := make([]string, 0, len(t.DependsOn)-1)
		for _, d := range t.DependsOn {
			if d != depID {
				deps = append(deps, d)
			}
		}
		t.DependsOn = deps
		return nil
	})
	return t, depID, err
}

// Dependents returns the ids of records that depend on the given record.
func (s *Service) Dependents(id string, tandas map[string]*models.Tanda) []string {
	var out []string
	for tid, t := range tandas {
		if t.DependsOnID(id) {
			out = append(out, tid)
		}
	}
	return out
}

// ReadyReport is the readiness classification of the whole registry.
type ReadyReport struct {
	// Flaky records need healing and are listed ahead of the execution order.
	Flaky []*models.Tanda
	// Ready is the dependency-respecting execution order for active records
	// whose dependencies are all healthy.
	Ready []string
	// Waiting holds records removed from the order because a dependency is
	// currently flaky or deprecated.
	Waiting []scheduler.Blocked
	// Blocked holds records that never reached in-degree zero (cycles or
	// chains anchored outside the relevant subset).
	Blocked []string
	// Tandas is the snapshot the report was computed from.
	Tandas map[string]*models.Tanda
}

// Ready computes the readiness report from a fresh store snapshot.
func (s *Service) Ready() (*ReadyReport, error) {
	tandas, err := s.store.LoadAll()
	if err != nil {
		return nil, err
	}

	report := &ReadyReport{Tandas: tandas}
	for _, t := range tandas {
		if t.Status == models.StatusFlaky {
			report.Flaky = append(report.Flaky, t)
		}
	}

	ordered, blocked := scheduler.ComputeOrder(tandas, []models.Status{models.StatusActive})
	report.Ready, report.Waiting = scheduler.PartitionUnhealthy(tandas, ordered)
	report.Blocked = blocked
	return report, nil
}

// Order exposes the raw scheduler result for the given filter.
func (s *Service) Order(filter []models.Status) (ordered, blocked []string, err error) {
	tandas, err := s.store.LoadAll()
	if err != nil {
		return nil, nil, err
	}
	ordered, blocked = scheduler.ComputeOrder(tandas, filter)
	return ordered, blocked, nil
}

// SyncCache projects the current store into the cache and returns the record
// count.
func (s *Service) SyncCache() (int, error) {
	tandas, err := s.store.LoadAll()
	if err != nil {
		return 0, err
	}
	if err := s.sync.Project(tandas); err != nil {
		return 0, err
	}
	return len(tandas), nil
}

// Import registers an externally-built record, used by test discovery. The
// caller supplies the full record including the discovery note.
func (s *Service) Import(t *models.Tanda) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if err := s.store.Append(t); err != nil {
		return err
	}
	return nil
}

// mutate loads the registry, resolves the target, applies fn, bumps
// UpdatedAt, rewrites the log atomically, and projects the cache. An error
// from fn aborts with no partial state change.
func (s *Service) mutate(idOrSuffix string, fn func(t *models.Tanda, all map[string]*models.Tanda) error) (*models.Tanda, error) {
	tandas, err := s.store.LoadAll()
	if err != nil {
		return nil, err
	}
	id, err := Resolve(tandas, idOrSuffix)
	if err != nil {
		return nil, err
	}

	t := tandas[id].Clone()
	if err := fn(t, tandas); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	t.Touch()
	tandas[id] = t

	if err := s.store.RewriteAll(tandas); err != nil {
		return nil, err
	}
	s.projectCache()
	return t, nil
}

// projectCache refreshes the cache from the store. Projection trouble is
// logged and absorbed: the log already holds the truth and the cache can be
// rebuilt at any time.
func (s *Service) projectCache() {
	tandas, err := s.store.LoadAll()
	if err != nil {
		s.logger.Warn("cache projection: reload failed", slog.String("error", err.Error()))
		return
	}
	if err := s.sync.Project(tandas); err != nil {
		s.logger.Warn("cache projection failed", slog.String("error", err.Error()))
	}
}

// Resolve finds a record id by exact match or unique suffix. An unknown id
// yields ErrNotFound; a suffix matching several records yields ErrAmbiguous.
func Resolve(tandas map[string]*models.Tanda, idOrSuffix string) (string, error) {
	if idOrSuffix == "" {
		return "", fmt.Errorf("empty id: %w", apperr.ErrNotFound)
	}
	if _, ok := tandas[idOrSuffix]; ok {
		return idOrSuffix, nil
	}
	var matches []string
	for id := range tandas {
		if strings.HasSuffix(id, idOrSuffix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("tanda %q: %w", idOrSuffix, apperr.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("tanda %q matches %d records: %w", idOrSuffix, len(matches), apperr.ErrAmbiguous)
	}
}
