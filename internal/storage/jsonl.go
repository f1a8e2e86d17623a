package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/starford/tanda/internal/models"
)

// maxLineSize bounds a single log line; run histories grow but stay well
// under this.
const maxLineSize = 1024 * 1024

// JSONL is a Store backed by a newline-delimited JSON log file.
type JSONL struct {
	path   string
	logger *slog.Logger
}

// NewJSONL creates a JSONL store for the given log path. The file does not
// have to exist yet; an absent log reads as an empty registry.
func NewJSONL(path string, logger *slog.Logger) *JSONL {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONL{path: path, logger: logger}
}

// Path returns the log file location.
func (s *JSONL) Path() string {
	return s.path
}

// LoadAll reads every record from the log. A line that fails to parse is
// logged and skipped so one corrupt entry never loses the rest of the
// registry. Later lines with a duplicate id win, matching rewrite order.
func (s *JSONL) LoadAll() (map[string]*models.Tanda, error) {
	tandas := make(map[string]*models.Tanda)

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return tandas, nil
		}
		return nil, fmt.Errorf("storage: open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t models.Tanda
		if err := json.Unmarshal(line, &t); err != nil {
			s.logger.Warn("storage: skipping malformed line",
				slog.Int("line", lineNum),
				slog.String("error", err.Error()))
			continue
		}
		if t.ID == "" {
			s.logger.Warn("storage: skipping entry without id", slog.Int("line", lineNum))
			continue
		}
		t.Normalize()
		tandas[t.ID] = &t
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("storage: read log: %w", err)
	}
	return tandas, nil
}

// Append writes a single record to the end of the log. One record is one
// indivisible write.
func (s *JSONL) Append(t *models.Tanda) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", t.ID, err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open log for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("storage: append %s: %w", t.ID, err)
	}
	return nil
}

// RewriteAll atomically replaces the log: tmp file → fsync → rename. Records
// are written in id order so identical registries produce identical files.
func (s *JSONL) RewriteAll(tandas map[string]*models.Tanda) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tanda-log-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	ids := make([]string, 0, len(tandas))
	for id := range tandas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := bufio.NewWriter(tmp)
	for _, id := range ids {
		data, err := json.Marshal(tandas[id])
		if err != nil {
			return fmt.Errorf("storage: marshal %s: %w", id, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("storage: write temp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("storage: flush temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Verify *JSONL satisfies Store at compile time.
var _ Store = (*JSONL)(nil)
