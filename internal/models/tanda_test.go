package models

import (
	"strings"
	"testing"
)

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses() {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("closed").Valid() {
		t.Error("closed should not be a valid status")
	}
	if Status("").Valid() {
		t.Error("empty status should not be valid")
	}
}

func TestGenerateID(t *testing.T) {
	id := GenerateID("Login Flow")
	if !strings.HasPrefix(id, "td-") {
		t.Errorf("id = %q, want td- prefix", id)
	}
	if len(id) != len("td-")+8 {
		t.Errorf("id = %q, want 8 hex chars after prefix", id)
	}
}

func TestNewTanda(t *testing.T) {
	ta := NewTanda("Checkout", StatusActive, "tests/checkout.spec.ts", []string{"cart"})
	if ta.ID == "" || ta.CreatedAt == "" || ta.UpdatedAt != ta.CreatedAt {
		t.Errorf("unexpected tanda: %+v", ta)
	}
	if ta.DependsOn == nil || ta.Notes == nil || ta.RunHistory == nil {
		t.Error("collections must be initialized empty, not nil")
	}
	if err := ta.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	ta := NewTanda("Self", StatusActive, "", nil)
	ta.DependsOn = []string{ta.ID}
	if err := ta.Validate(); err == nil {
		t.Error("expected self-dependency to be rejected")
	}
}

func TestValidateRejectsBadStatus(t *testing.T) {
	ta := NewTanda("Bad", StatusActive, "", nil)
	ta.Status = "retired"
	if err := ta.Validate(); err == nil {
		t.Error("expected invalid status to be rejected")
	}
}

func TestCloneIsDeep(t *testing.T) {
	ta := NewTanda("Orig", StatusActive, "", []string{"a"})
	ta.RunHistory = append(ta.RunHistory, RunEntry{Timestamp: Now(), Result: ResultPass})

	c := ta.Clone()
	c.Covers[0] = "b"
	c.RunHistory[0].Result = ResultFail

	if ta.Covers[0] != "a" {
		t.Error("clone shares covers slice")
	}
	if ta.RunHistory[0].Result != ResultPass {
		t.Error("clone shares run history slice")
	}
}

func TestLastRun(t *testing.T) {
	ta := NewTanda("Runs", StatusActive, "", nil)
	if ta.LastRun() != nil {
		t.Error("empty history should have no last run")
	}
	ta.RunHistory = append(ta.RunHistory,
		RunEntry{Timestamp: "2025-01-01T00:00:00", Result: ResultFail},
		RunEntry{Timestamp: "2025-01-02T00:00:00", Result: ResultPass},
	)
	last := ta.LastRun()
	if last == nil || last.Result != ResultPass {
		t.Errorf("LastRun = %+v, want latest pass entry", last)
	}
}
