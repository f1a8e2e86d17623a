package index

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/starford/tanda/internal/apperr"
	"github.com/starford/tanda/internal/health"
	"github.com/starford/tanda/internal/models"
)

// Row is one cache row: the record fields plus the projection-time
// denormalizations (flakiness score, last run).
type Row struct {
	Tanda         models.Tanda
	Flakiness     float64
	LastRunAt     string
	LastRunResult string
}

// Filter narrows List results. Zero values mean "no restriction".
type Filter struct {
	Status models.Status
	Cover  string
}

// Rebuild deletes and fully repopulates the cache from the given record set
// in a single transaction. The flakiness score and last-run columns are
// recomputed here; rebuilding from an unchanged store is idempotent.
func (db *DB) Rebuild(tandas map[string]*models.Tanda) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM tandas`); err != nil {
		return fmt.Errorf("index: clear: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO tandas (id, title, status, file, covers, depends_on, notes, run_history,
		                    flakiness_score, last_run_at, last_run_result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tandas {
		coversJSON, _ := json.Marshal(t.Covers)
		depsJSON, _ := json.Marshal(t.DependsOn)
		notesJSON, _ := json.Marshal(t.Notes)
		historyJSON, _ := json.Marshal(t.RunHistory)

		var lastRunAt, lastRunResult string
		if last := t.LastRun(); last != nil {
			lastRunAt = last.Timestamp
			lastRunResult = last.Result
		}

		if _, err := stmt.Exec(
			t.ID, t.Title, string(t.Status), nullable(t.File),
			string(coversJSON), string(depsJSON), string(notesJSON), string(historyJSON),
			health.Score(t.RunHistory), nullable(lastRunAt), nullable(lastRunResult),
			t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("index: insert %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

const rowColumns = `id, title, status, file, covers, depends_on, notes, run_history,
	flakiness_score, last_run_at, last_run_result, created_at, updated_at`

// Get returns a single cache row by exact id.
func (db *DB) Get(id string) (*Row, error) {
	row := db.conn.QueryRow(`SELECT `+rowColumns+` FROM tandas WHERE id = ?`, id)
	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get %s: %w", id, err)
	}
	return r, nil
}

// List returns cache rows matching the filter, most recently updated first.
func (db *DB) List(f Filter) ([]Row, error) {
	query := `SELECT ` + rowColumns + ` FROM tandas WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Cover != "" {
		query += ` AND covers LIKE ?`
		args = append(args, `%"`+f.Cover+`"%`)
	}
	query += ` ORDER BY updated_at DESC, id ASC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// All returns every cached record keyed by id. Used by the daemon's export
// cycle; the projection-only columns are not part of the record.
func (db *DB) All() (map[string]*models.Tanda, error) {
	rows, err := db.List(Filter{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Tanda, len(rows))
	for i := range rows {
		t := rows[i].Tanda
		out[t.ID] = &t
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(s scannable) (*Row, error) {
	var r Row
	var file, lastRunAt, lastRunResult sql.NullString
	var coversJSON, depsJSON, notesJSON, historyJSON string
	var status string

	err := s.Scan(&r.Tanda.ID, &r.Tanda.Title, &status, &file,
		&coversJSON, &depsJSON, &notesJSON, &historyJSON,
		&r.Flakiness, &lastRunAt, &lastRunResult,
		&r.Tanda.CreatedAt, &r.Tanda.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Tanda.Status = models.Status(status)
	r.Tanda.File = file.String
	r.LastRunAt = lastRunAt.String
	r.LastRunResult = lastRunResult.String

	json.Unmarshal([]byte(coversJSON), &r.Tanda.Covers)     //nolint:errcheck
	json.Unmarshal([]byte(depsJSON), &r.Tanda.DependsOn)    //nolint:errcheck
	json.Unmarshal([]byte(notesJSON), &r.Tanda.Notes)       //nolint:errcheck
	json.Unmarshal([]byte(historyJSON), &r.Tanda.RunHistory) //nolint:errcheck
	r.Tanda.Normalize()

	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
