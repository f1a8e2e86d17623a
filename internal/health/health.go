// Package health derives the flakiness score from run history and drives the
// automatic status transitions.
package health

import (
	"math"

	"github.com/starford/tanda/internal/models"
)

// Window is the number of most recent runs considered by the score. Older
// entries are kept in the history but do not influence the score.
const Window = 10

// Thresholds for automatic transitions.
const (
	// FlakyThreshold: an active tanda at or above this score turns flaky.
	FlakyThreshold = 0.20
	// MinStableRuns: a flaky tanda needs at least this many recorded runs
	// before a clean score can revert it to active.
	MinStableRuns = 3
)

// Score returns the fraction of failures among the most recent Window runs,
// rounded to two decimals. An empty history scores 0.0.
func Score(history []models.RunEntry) float64 {
	if len(history) == 0 {
		return 0.0
	}
	recent := history
	if len(recent) > Window {
		recent = recent[len(recent)-Window:]
	}
	failures := 0
	for _, r := range recent {
		if r.Result == models.ResultFail {
			failures++
		}
	}
	return math.Round(float64(failures)/float64(len(recent))*100) / 100
}

// NextStatus evaluates the state machine after a run has been appended to
// history. It returns the status the tanda should hold and whether that is a
// change. Deprecated is terminal by convention: it is never entered or left
// automatically.
func NextStatus(current models.Status, history []models.RunEntry) (models.Status, bool) {
	score := Score(history)
	switch current {
	case models.StatusActive:
		if score >= FlakyThreshold {
			return models.StatusFlaky, true
		}
	case models.StatusFlaky:
		if score == 0.0 && len(history) >= MinStableRuns {
			return models.StatusActive, true
		}
	}
	return current, false
}
