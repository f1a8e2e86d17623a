// Package models defines the domain types for the Tanda registry.
package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Status classifies the health of a tanda. A tanda is never closed; it moves
// between active, flaky, and deprecated for as long as it is tracked.
type Status string

const (
	StatusActive     Status = "active"
	StatusFlaky      Status = "flaky"
	StatusDeprecated Status = "deprecated"
)

// Valid reports whether s is one of the three recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFlaky, StatusDeprecated:
		return true
	}
	return false
}

// Statuses returns all valid status values.
func Statuses() []Status {
	return []Status{StatusActive, StatusFlaky, StatusDeprecated}
}

// Run results recorded in a tanda's history.
const (
	ResultPass = "pass"
	ResultFail = "fail"
	ResultSkip = "skip"
)

// ValidResult reports whether r is a recognized run result.
func ValidResult(r string) bool {
	return r == ResultPass || r == ResultFail || r == ResultSkip
}

// TimeLayout is the second-precision ISO-8601 layout used for all registry
// timestamps.
const TimeLayout = "2006-01-02T15:04:05"

// Now returns the current time formatted with TimeLayout.
func Now() string {
	return time.Now().Format(TimeLayout)
}

// Note is a timestamped annotation on a tanda. Notes are append-only.
type Note struct {
	Timestamp string `json:"ts"`
	Kind      string `json:"type"`
	Text      string `json:"text"`
}

// RunEntry is one observed test run. RunHistory is append-only; the
// flakiness score windows the tail without discarding older entries.
type RunEntry struct {
	Timestamp string `json:"ts"`
	Result    string `json:"result"`
	Duration  string `json:"duration,omitempty"`
	Trace     string `json:"trace,omitempty"`
}

// Tanda is a persistent record of one tracked test. The flakiness score is
// derived from RunHistory on every cache projection and is deliberately not a
// field here: the JSONL log never stores it.
type Tanda struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     Status     `json:"status"`
	File       string     `json:"file,omitempty"`
	Covers     []string   `json:"covers"`
	DependsOn  []string   `json:"depends_on"`
	Notes      []Note     `json:"notes"`
	RunHistory []RunEntry `json:"run_history"`
	CreatedAt  string     `json:"created_at"`
	UpdatedAt  string     `json:"updated_at"`
}

// NewTanda creates a tanda with a fresh ID and timestamps.
func NewTanda(title string, status Status, file string, covers []string) *Tanda {
	now := Now()
	return &Tanda{
		ID:         GenerateID(title),
		Title:      title,
		Status:     status,
		File:       file,
		Covers:     covers,
		DependsOn:  []string{},
		Notes:      []Note{},
		RunHistory: []RunEntry{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// GenerateID derives a registry ID from the title and current time.
func GenerateID(title string) string {
	h := sha1.Sum([]byte(title + Now()))
	return "td-" + hex.EncodeToString(h[:])[:8]
}

// Touch bumps UpdatedAt to the current time.
func (t *Tanda) Touch() {
	t.UpdatedAt = Now()
}

// LastRun returns the most recent run entry, or nil when the history is empty.
func (t *Tanda) LastRun() *RunEntry {
	if len(t.RunHistory) == 0 {
		return nil
	}
	return &t.RunHistory[len(t.RunHistory)-1]
}

// DependsOnID reports whether t lists id as a dependency.
func (t *Tanda) DependsOnID(id string) bool {
	for _, d := range t.DependsOn {
		if d == id {
			return true
		}
	}
	return false
}

// Normalize replaces nil collection fields with empty ones so that records
// round-trip through JSON identically regardless of which writer produced
// them.
func (t *Tanda) Normalize() {
	if t.Covers == nil {
		t.Covers = []string{}
	}
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	if t.Notes == nil {
		t.Notes = []Note{}
	}
	if t.RunHistory == nil {
		t.RunHistory = []RunEntry{}
	}
}

// Validate checks the structural invariants that must hold before a tanda is
// written to the store.
func (t *Tanda) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("models: id is empty")
	}
	if t.Title == "" {
		return fmt.Errorf("models: title is empty")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("models: invalid status %q", t.Status)
	}
	for _, d := range t.DependsOn {
		if d == t.ID {
			return fmt.Errorf("models: %s depends on itself", t.ID)
		}
	}
	return nil
}

// Clone returns a deep copy of t.
func (t *Tanda) Clone() *Tanda {
	c := *t
	c.Covers = append([]string(nil), t.Covers...)
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Notes = append([]Note(nil), t.Notes...)
	c.RunHistory = append([]RunEntry(nil), t.RunHistory...)
	c.Normalize()
	return &c
}
