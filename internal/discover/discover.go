// Package discover finds test files on disk and registers them as records.
package discover

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/tanda/internal/models"
)

// DefaultSuffixes are the test file patterns searched by default.
var DefaultSuffixes = []string{".spec.ts", ".spec.js", ".test.ts", ".test.js"}

// skipDirs are directory names excluded from the walk.
var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".tandas":      {},
}

// Candidate is a test file eligible for registration.
type Candidate struct {
	Path  string
	Title string
}

// Importer registers a fully-formed record. Implemented by the service layer.
type Importer interface {
	Import(t *models.Tanda) error
}

// Result summarizes one discovery pass.
type Result struct {
	Created []*models.Tanda
	Skipped []string // already-registered paths
}

// Scan walks dir and returns candidates sorted by path.
func Scan(dir string, suffixes []string) ([]Candidate, error) {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}

	var out []Candidate
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			if _, skip := skipDirs[entry.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(path, suffix) {
				out = append(out, Candidate{Path: path, Title: TitleFromPath(path)})
				break
			}
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("discover: directory %s does not exist", dir)
		}
		return nil, fmt.Errorf("discover: walk %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// TitleFromPath derives a human title from a test file name:
// "user-login.spec.ts" becomes "User Login".
func TitleFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.TrimSuffix(name, ".spec")
	name = strings.TrimSuffix(name, ".test")
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return title(name)
}

// Run registers every candidate under dir whose file is not already covered
// by an existing record.
func Run(imp Importer, existing map[string]*models.Tanda, dir string, suffixes []string) (*Result, error) {
	candidates, err := Scan(dir, suffixes)
	if err != nil {
		return nil, err
	}

	registered := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		if t.File != "" {
			registered[t.File] = struct{}{}
		}
	}

	res := &Result{}
	for _, c := range candidates {
		if _, ok := registered[c.Path]; ok {
			res.Skipped = append(res.Skipped, c.Path)
			continue
		}
		t := models.NewTanda(c.Title, models.StatusActive, c.Path, nil)
		t.Notes = append(t.Notes, models.Note{
			Timestamp: models.Now(),
			Kind:      "note",
			Text:      "Auto-discovered by td discover",
		})
		if err := imp.Import(t); err != nil {
			return res, err
		}
		registered[c.Path] = struct{}{}
		res.Created = append(res.Created, t)
	}
	return res, nil
}

// title upper-cases the first letter of each word.
func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
