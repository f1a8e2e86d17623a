// Package scheduler computes a dependency-respecting execution order for the
// runnable subset of the registry.
package scheduler

import (
	"sort"

	"github.com/starford/tanda/internal/models"
)

// DefaultFilter is the status subset considered runnable when no explicit
// filter is given.
func DefaultFilter() []models.Status {
	return []models.Status{models.StatusActive, models.StatusFlaky}
}

// ComputeOrder topologically sorts the records whose status is in filter
// (Kahn's algorithm) and returns the execution order plus the ids that never
// reached in-degree zero. Edges to records outside the relevant subset do not
// count against in-degree, so a dependency on a deprecated or missing record
// neither blocks nor is tracked. Blockage is a classification, not an error:
// it covers genuine cycles and chains anchored on excluded records.
//
// The candidate set is re-sorted at every extraction step rather than kept in
// a fixed priority queue. That is O(n² log n) and intentional: the tie-break
// (flaky before active, then earliest UpdatedAt, then ID) is recomputed
// against the current candidates each step and is part of the contract, so
// identical input always produces the identical order.
func ComputeOrder(tandas map[string]*models.Tanda, filter []models.Status) (ordered, blocked []string) {
	if filter == nil {
		filter = DefaultFilter()
	}
	allowed := make(map[models.Status]bool, len(filter))
	for _, s := range filter {
		allowed[s] = true
	}

	relevant := make(map[string]*models.Tanda)
	for id, t := range tandas {
		if allowed[t.Status] {
			relevant[id] = t
		}
	}

	inDegree := make(map[string]int, len(relevant))
	for id, t := range relevant {
		n := 0
		for _, dep := range t.DependsOn {
			if _, ok := relevant[dep]; ok {
				n++
			}
		}
		inDegree[id] = n
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	ordered = []string{}
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool {
			return less(relevant[queue[i]], relevant[queue[j]])
		})
		current := queue[0]
		queue = queue[1:]
		ordered = append(ordered, current)

		for id, t := range relevant {
			if t.DependsOnID(current) {
				inDegree[id]--
				if inDegree[id] == 0 {
					queue = append(queue, id)
				}
			}
		}
	}

	blocked = []string{}
	for id, deg := range inDegree {
		if deg > 0 {
			blocked = append(blocked, id)
		}
	}
	sort.Strings(blocked)
	return ordered, blocked
}

// less is the extraction tie-break: flaky before active, then earliest
// UpdatedAt. ID is the final discriminator so ties are total and the order
// reproducible.
func less(a, b *models.Tanda) bool {
	ra, rb := statusRank(a.Status), statusRank(b.Status)
	if ra != rb {
		return ra < rb
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt < b.UpdatedAt
	}
	return a.ID < b.ID
}

func statusRank(s models.Status) int {
	if s == models.StatusFlaky {
		return 0
	}
	return 1
}

// Blocked describes a record removed from the ready order because one of its
// dependencies is currently flaky or deprecated.
type Blocked struct {
	ID       string
	Blocking []string
}

// PartitionUnhealthy filters an already-computed order: records whose
// dependency set contains a flaky or deprecated record (looked up against the
// full registry) are removed and reported with their blockers. The removal is
// evaluated once against the given order and is deliberately not propagated
// to dependents; the topological sort is not re-run.
func PartitionUnhealthy(tandas map[string]*models.Tanda, ordered []string) (ready []string, waiting []Blocked) {
	ready = []string{}
	for _, id := range ordered {
		t, ok := tandas[id]
		if !ok {
			continue
		}
		var blocking []string
		for _, dep := range t.DependsOn {
			if d, ok := tandas[dep]; ok &&
				(d.Status == models.StatusFlaky || d.Status == models.StatusDeprecated) {
				blocking = append(blocking, dep)
			}
		}
		if len(blocking) > 0 {
			waiting = append(waiting, Blocked{ID: id, Blocking: blocking})
			continue
		}
		ready = append(ready, id)
	}
	return ready, waiting
}
