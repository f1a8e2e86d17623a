// Package trace manages the trace inbox: a JSONL side file collecting
// discovered trace artifacts until they are linked to a record.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry statuses.
const (
	StatusPending = "pending"
	StatusLinked  = "linked"
)

// Entry is one discovered trace file.
type Entry struct {
	Path      string `json:"path"`
	Timestamp string `json:"ts"`
	Source    string `json:"source"`
	Status    string `json:"status"`
	TandaID   string `json:"tanda_id,omitempty"`
	LinkedAt  string `json:"linked_at,omitempty"`
}

// Inbox is the JSONL-backed trace inbox.
type Inbox struct {
	path string
	root string // project root used to normalize trace paths
}

// NewInbox creates an inbox stored at path, normalizing trace paths against
// root.
func NewInbox(path, root string) *Inbox {
	return &Inbox{path: path, root: root}
}

// Normalize makes a trace path relative to the project root when possible.
func (in *Inbox) Normalize(path string) string {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(in.root, abs)
	}
	abs = filepath.Clean(abs)
	if rel, err := filepath.Rel(in.root, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return abs
}

// Load reads all inbox entries, skipping malformed lines.
func (in *Inbox) Load() ([]Entry, error) {
	f, err := os.Open(in.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("trace: open inbox: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.Status == "" {
			e.Status = StatusPending
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Pending returns only entries not yet linked.
func (in *Inbox) Pending() ([]Entry, error) {
	all, err := in.Load()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

// Append adds one entry to the inbox.
func (in *Inbox) Append(e Entry) error {
	if e.Status == "" {
		e.Status = StatusPending
	}
	e.Path = in.Normalize(e.Path)

	if err := os.MkdirAll(filepath.Dir(in.path), 0o755); err != nil {
		return fmt.Errorf("trace: mkdir: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("trace: marshal entry: %w", err)
	}
	f, err := os.OpenFile(in.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("trace: open inbox: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("trace: append: %w", err)
	}
	return nil
}

// MarkLinked flags every pending entry for path as linked to the given
// record. It reports whether any entry was updated.
func (in *Inbox) MarkLinked(path, tandaID, linkedAt string) (bool, error) {
	path = in.Normalize(path)
	entries, err := in.Load()
	if err != nil {
		return false, err
	}
	updated := false
	for i := range entries {
		if entries[i].Path == path && entries[i].Status == StatusPending {
			entries[i].Status = StatusLinked
			entries[i].TandaID = tandaID
			entries[i].LinkedAt = linkedAt
			updated = true
		}
	}
	if !updated {
		return false, nil
	}
	return true, in.rewrite(entries)
}

// Scan walks dir for files with the given extensions and appends entries for
// ones not already known. It returns the number of new entries.
func (in *Inbox) Scan(dir string, exts []string, source, now string) (int, error) {
	if len(exts) == 0 {
		exts = []string{".zip", ".trace.zip"}
	}
	for i, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			exts[i] = "." + ext
		}
	}

	existing := make(map[string]struct{})
	entries, err := in.Load()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		existing[e.Path] = struct{}{}
	}

	var found []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		for _, ext := range exts {
			if strings.HasSuffix(path, ext) {
				found = append(found, path)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("trace: scan %s: %w", dir, err)
	}
	sort.Strings(found)

	discovered := 0
	for _, path := range found {
		norm := in.Normalize(path)
		if _, ok := existing[norm]; ok {
			continue
		}
		if err := in.Append(Entry{Path: norm, Timestamp: now, Source: source, Status: StatusPending}); err != nil {
			return discovered, err
		}
		existing[norm] = struct{}{}
		discovered++
	}
	return discovered, nil
}

// rewrite replaces the inbox file contents.
func (in *Inbox) rewrite(entries []Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(in.path), ".trace-inbox-*")
	if err != nil {
		return fmt.Errorf("trace: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("trace: marshal: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("trace: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("trace: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("trace: close temp: %w", err)
	}
	if err := os.Rename(tmpName, in.path); err != nil {
		return fmt.Errorf("trace: rename: %w", err)
	}
	success = true
	return nil
}
