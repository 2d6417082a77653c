package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes registers optimization routes (mounted under /api).
// limit, when non-nil, wraps the solver-heavy POST endpoints.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler, timeout time.Duration) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Use(middleware.Timeout(timeout))
		r.Post("/optimize", h.HandleOptimize)
		r.Post("/frontier", h.HandleFrontier)
		r.Post("/portfolio/stats", h.HandlePortfolioStats)
	})

	r.Get("/results/{id}", h.HandleGetResult)
	r.Get("/methods", h.HandleMethods)
	r.Route("/assets", func(r chi.Router) {
		r.Get("/coverage", h.HandleCoverage)
		r.Get("/groups", h.HandleAssetGroups)
	})
}
