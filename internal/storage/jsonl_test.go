package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/starford/tanda/internal/models"
)

func tempStore(t *testing.T) *JSONL {
	t.Helper()
	dir := t.TempDir()
	return NewJSONL(filepath.Join(dir, "issues.jsonl"), slog.New(slog.DiscardHandler))
}

func TestLoadAllMissingFile(t *testing.T) {
	s := tempStore(t)
	tandas, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(tandas) != 0 {
		t.Errorf("expected empty registry, got %d records", len(tandas))
	}
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	s := tempStore(t)

	a := models.NewTanda("Login", models.StatusActive, "tests/login.spec.ts", []string{"auth"})
	a.Notes = append(a.Notes, models.Note{Timestamp: models.Now(), Kind: "note", Text: "seed"})
	a.RunHistory = append(a.RunHistory, models.RunEntry{Timestamp: models.Now(), Result: models.ResultPass, Duration: "1.2s"})
	b := models.NewTanda("Checkout", models.StatusFlaky, "", nil)
	b.Normalize()

	for _, ta := range []*models.Tanda{a, b} {
		if err := s.Append(ta); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d records, want 2", len(got))
	}
	if !reflect.DeepEqual(got[a.ID], a) {
		t.Errorf("record %s changed across round trip:\n got %+v\nwant %+v", a.ID, got[a.ID], a)
	}
	if !reflect.DeepEqual(got[b.ID], b) {
		t.Errorf("record %s changed across round trip:\n got %+v\nwant %+v", b.ID, got[b.ID], b)
	}
}

func TestRewriteAllRoundTrip(t *testing.T) {
	s := tempStore(t)

	tandas := make(map[string]*models.Tanda)
	for _, title := range []string{"One", "Two", "Three"} {
		ta := models.NewTanda(title, models.StatusActive, "", nil)
		tandas[ta.ID] = ta
	}
	if err := s.RewriteAll(tandas); err != nil {
		t.Fatalf("RewriteAll: %v", err)
	}

	got, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if !reflect.DeepEqual(got, tandas) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, tandas)
	}
}

func TestRewriteAllIsDeterministic(t *testing.T) {
	s := tempStore(t)
	tandas := make(map[string]*models.Tanda)
	for _, title := range []string{"A", "B", "C", "D"} {
		ta := models.NewTanda(title, models.StatusActive, "", nil)
		tandas[ta.ID] = ta
	}

	if err := s.RewriteAll(tandas); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(s.Path())
	if err := s.RewriteAll(tandas); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(s.Path())

	if string(first) != string(second) {
		t.Error("identical registries should produce identical log files")
	}
}

func TestRewriteAllLeavesNoTempFiles(t *testing.T) {
	s := tempStore(t)
	ta := models.NewTanda("Solo", models.StatusActive, "", nil)
	if err := s.RewriteAll(map[string]*models.Tanda{ta.ID: ta}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tanda-log-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadAllSkipsMalformedLines(t *testing.T) {
	s := tempStore(t)
	good := models.NewTanda("Good", models.StatusActive, "", nil)
	if err := s.Append(good); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(s.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{not valid json\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	other := models.NewTanda("Other", models.StatusFlaky, "", nil)
	if err := s.Append(other); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll should not fail on a corrupt line: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("loaded %d records, want 2 (corrupt line skipped)", len(got))
	}
	if got[good.ID] == nil || got[other.ID] == nil {
		t.Error("valid records on either side of the corrupt line must survive")
	}
}

func TestLoadAllNormalizesNilCollections(t *testing.T) {
	s := tempStore(t)
	f, err := os.Create(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	// Record written by an older tool without collection fields.
	f.WriteString(`{"id":"td-cafe0001","title":"Legacy","status":"active","created_at":"2025-01-01T00:00:00","updated_at":"2025-01-01T00:00:00"}` + "\n")
	f.Close()

	got, err := s.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	ta := got["td-cafe0001"]
	if ta == nil {
		t.Fatal("legacy record not loaded")
	}
	if ta.Covers == nil || ta.DependsOn == nil || ta.Notes == nil || ta.RunHistory == nil {
		t.Error("collections must be normalized to empty slices on load")
	}
}
