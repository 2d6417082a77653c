package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers saved portfolio routes (mounted under /api).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolios", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Post("/export-csv", h.HandleExportCSV)
		r.Post("/import-csv", h.HandleImportCSV)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
	})
}
