package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/tanda/internal/tandaservice"
)

// NewRouter creates a chi router with the read-only registry routes mounted.
func NewRouter(svc *tandaservice.Service) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Get("/tandas", h.ListTandas)
	r.Get("/tandas/{id}", h.GetTanda)
	r.Get("/ready", h.Ready)

	return r
}
