package health

import (
	"testing"

	"github.com/starford/tanda/internal/models"
)

func runs(results ...string) []models.RunEntry {
	out := make([]models.RunEntry, len(results))
	for i, r := range results {
		out[i] = models.RunEntry{Timestamp: models.Now(), Result: r}
	}
	return out
}

func TestScoreEmptyHistory(t *testing.T) {
	if got := Score(nil); got != 0.0 {
		t.Errorf("Score(nil) = %v, want 0.0", got)
	}
}

func TestScoreBounds(t *testing.T) {
	cases := [][]models.RunEntry{
		runs("pass"),
		runs("fail"),
		runs("fail", "fail", "fail"),
		runs("pass", "skip", "fail", "pass"),
		runs("fail", "fail", "fail", "fail", "fail", "fail", "fail", "fail", "fail", "fail", "fail", "fail"),
	}
	for _, h := range cases {
		s := Score(h)
		if s < 0.0 || s > 1.0 {
			t.Errorf("Score(%d runs) = %v, out of [0,1]", len(h), s)
		}
	}
}

func TestScoreWindowsTail(t *testing.T) {
	// 5 old failures followed by 10 passes: only the last 10 count.
	h := append(runs("fail", "fail", "fail", "fail", "fail"),
		runs("pass", "pass", "pass", "pass", "pass", "pass", "pass", "pass", "pass", "pass")...)
	if got := Score(h); got != 0.0 {
		t.Errorf("Score = %v, want 0.0 (old failures outside window)", got)
	}
}

func TestScoreRounding(t *testing.T) {
	// 1 failure in 3 runs = 0.333... → 0.33.
	if got := Score(runs("fail", "pass", "pass")); got != 0.33 {
		t.Errorf("Score = %v, want 0.33", got)
	}
	// 2 failures in 10 runs = exactly 0.20.
	h := runs("fail", "fail", "pass", "pass", "pass", "pass", "pass", "pass", "pass", "pass")
	if got := Score(h); got != 0.20 {
		t.Errorf("Score = %v, want 0.20", got)
	}
}

func TestActiveTurnsFlakyAtThreshold(t *testing.T) {
	// Exactly 2 failures in the last 10 → score 0.20 → flips.
	h := runs("fail", "fail", "pass", "pass", "pass", "pass", "pass", "pass", "pass", "pass")
	next, changed := NextStatus(models.StatusActive, h)
	if !changed || next != models.StatusFlaky {
		t.Errorf("NextStatus = (%v, %v), want (flaky, true)", next, changed)
	}
}

func TestActiveStaysBelowThreshold(t *testing.T) {
	// 1 failure in 10 → score 0.10 → no transition.
	h := runs("fail", "pass", "pass", "pass", "pass", "pass", "pass", "pass", "pass", "pass")
	next, changed := NextStatus(models.StatusActive, h)
	if changed || next != models.StatusActive {
		t.Errorf("NextStatus = (%v, %v), want (active, false)", next, changed)
	}
}

func TestFlakyNeedsThreeRunsToRecover(t *testing.T) {
	// Two clean passes are not enough evidence.
	next, changed := NextStatus(models.StatusFlaky, runs("pass", "pass"))
	if changed || next != models.StatusFlaky {
		t.Errorf("after 2 passes: (%v, %v), want (flaky, false)", next, changed)
	}
	// The third pass confirms stability.
	next, changed = NextStatus(models.StatusFlaky, runs("pass", "pass", "pass"))
	if !changed || next != models.StatusActive {
		t.Errorf("after 3 passes: (%v, %v), want (active, true)", next, changed)
	}
}

func TestFlakyWithResidualFailuresStaysFlaky(t *testing.T) {
	next, changed := NextStatus(models.StatusFlaky, runs("fail", "pass", "pass", "pass"))
	if changed || next != models.StatusFlaky {
		t.Errorf("NextStatus = (%v, %v), want (flaky, false)", next, changed)
	}
}

func TestDeprecatedNeverTransitions(t *testing.T) {
	for _, h := range [][]models.RunEntry{
		runs("fail", "fail", "fail"),
		runs("pass", "pass", "pass", "pass"),
		nil,
	} {
		next, changed := NextStatus(models.StatusDeprecated, h)
		if changed || next != models.StatusDeprecated {
			t.Errorf("deprecated moved to (%v, %v)", next, changed)
		}
	}
}

func TestSkipDoesNotCountAsFailure(t *testing.T) {
	h := runs("skip", "skip", "skip", "pass")
	if got := Score(h); got != 0.0 {
		t.Errorf("Score = %v, want 0.0 (skips are not failures)", got)
	}
}
