// Package api exposes the daemon's read-only HTTP surface. Mutations stay on
// the CLI path so the JSONL log remains the single write entry point.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tanda/internal/apperr"
	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/models"
	"github.com/starford/tanda/internal/tandaservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *tandaservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *tandaservice.Service) *Handler {
	return &Handler{svc: svc}
}

// TandaListItem is one record in a list response, enriched with the
// projection-time columns.
type TandaListItem struct {
	models.Tanda
	Flakiness     float64 `json:"flakiness_score"`
	LastRunAt     string  `json:"last_run_at,omitempty"`
	LastRunResult string  `json:"last_run_result,omitempty"`
}

// ListTandas handles GET /api/tandas with optional status and cover filters.
func (h *Handler) ListTandas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := index.Filter{
		Status: models.Status(q.Get("status")),
		Cover:  q.Get("cover"),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid status filter"))
		return
	}

	rows, err := h.svc.List(f)
	if err != nil {
		slog.Error("list tandas failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	items := make([]TandaListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, TandaListItem{
			Tanda:         row.Tanda,
			Flakiness:     row.Flakiness,
			LastRunAt:     row.LastRunAt,
			LastRunResult: row.LastRunResult,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tandas": items,
		"total":  len(items),
	})
}

// GetTanda handles GET /api/tandas/{id}. The id may be a unique suffix.
func (h *Handler) GetTanda(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.svc.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrAmbiguous):
			writeJSON(w, http.StatusBadRequest, errorBody("ambiguous id"))
		default:
			slog.Error("get tanda failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Ready handles GET /api/ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Ready()
	if err != nil {
		slog.Error("ready report failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	flaky := make([]string, 0, len(report.Flaky))
	for _, t := range report.Flaky {
		flaky = append(flaky, t.ID)
	}
	waiting := make([]map[string]any, 0, len(report.Waiting))
	for _, b := range report.Waiting {
		waiting = append(waiting, map[string]any{
			"id":       b.ID,
			"blocking": b.Blocking,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flaky":   flaky,
		"ready":   report.Ready,
		"waiting": waiting,
		"blocked": report.Blocked,
	})
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}
