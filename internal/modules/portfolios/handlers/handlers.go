// Package handlers provides HTTP handlers for saved portfolios.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/optimizer/internal/modules/portfolios"
	"github.com/aristath/optimizer/internal/modules/prices"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// CoverageSource reports which symbols have price data.
type CoverageSource interface {
	GetCoverage(ctx context.Context, symbols []string) ([]prices.Coverage, error)
}

// Handler handles saved portfolio HTTP requests
type Handler struct {
	repo     *portfolios.Repository
	coverage CoverageSource
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new portfolios handler
func NewHandler(repo *portfolios.Repository, coverage CoverageSource, log zerolog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		coverage: coverage,
		validate: validator.New(),
		log:      log.With().Str("handler", "portfolios").Logger(),
	}
}

// SaveRequest is the body of POST and PUT /api/portfolios.
type SaveRequest struct {
	Name        string             `json:"name" validate:"required,max=200"`
	Tickers     []string           `json:"tickers" validate:"required,min=1,max=100,dive,required"`
	Weights     map[string]float64 `json:"weights"`
	Constraints struct {
		Assets map[string]struct {
			Min *float64 `json:"min" validate:"omitempty,gte=0,lte=1"`
			Max *float64 `json:"max" validate:"omitempty,gte=0,lte=1"`
		} `json:"assets" validate:"dive"`
	} `json:"constraints"`
}

func (req *SaveRequest) holdings() []portfolios.Holding {
	out := make([]portfolios.Holding, 0, len(req.Tickers))
	for _, t := range req.Tickers {
		h := portfolios.Holding{Symbol: t, Weight: req.Weights[t]}
		if b, ok := req.Constraints.Assets[t]; ok {
			h.Min, h.Max = b.Min, b.Max
		}
		out = append(out, h)
	}
	return out
}

// HandleList handles GET /api/portfolios
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list portfolios")
		h.writeError(w, http.StatusInternalServerError, "Failed to list portfolios")
		return
	}
	if list == nil {
		list = []portfolios.Portfolio{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"portfolios": list})
}

// HandleGet handles GET /api/portfolios/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get portfolio")
		h.writeError(w, http.StatusInternalServerError, "Failed to get portfolio")
		return
	}
	if p == nil {
		h.writeError(w, http.StatusNotFound, "Portfolio not found")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleCreate handles POST /api/portfolios
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.repo.Create(r.Context(), req.Name, req.holdings())
	if err != nil {
		h.writeSaveError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

// HandleUpdate handles PUT /api/portfolios/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.repo.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.holdings())
	if err != nil {
		h.writeSaveError(w, err)
		return
	}
	if p == nil {
		h.writeError(w, http.StatusNotFound, "Portfolio not found")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleDelete handles DELETE /api/portfolios/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.repo.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to delete portfolio")
		h.writeError(w, http.StatusInternalServerError, "Failed to delete portfolio")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "Portfolio not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Portfolio deleted"})
}

// HandleExportCSV handles POST /api/portfolios/export-csv
func (h *Handler) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Tickers) == 0 {
		h.writeError(w, http.StatusBadRequest, "No tickers provided")
		return
	}

	out, err := portfolios.ExportCSV(req.holdings())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "CSV export failed: "+err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"csv":      out,
		"filename": fmt.Sprintf("portfolio_%s.csv", time.Now().Format("20060102_150405")),
	})
}

// HandleImportCSV handles POST /api/portfolios/import-csv. Tickers without
// price data are reported in invalid_tickers and left out.
func (h *Handler) HandleImportCSV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CSV string `json:"csv"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.CSV) == "" {
		h.writeError(w, http.StatusBadRequest, "No CSV content provided")
		return
	}

	imported, err := portfolios.ImportCSV(strings.NewReader(req.CSV))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	symbols := make([]string, len(imported.Holdings))
	for i, hd := range imported.Holdings {
		symbols[i] = hd.Symbol
	}
	known := make(map[string]bool)
	if h.coverage != nil && len(symbols) > 0 {
		coverage, err := h.coverage.GetCoverage(r.Context(), symbols)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to check imported tickers")
			h.writeError(w, http.StatusInternalServerError, "Failed to check imported tickers")
			return
		}
		for _, c := range coverage {
			known[c.Symbol] = true
		}
	}

	valid := []portfolios.Holding{}
	invalid := []string{}
	for _, hd := range imported.Holdings {
		if h.coverage == nil || known[hd.Symbol] {
			valid = append(valid, hd)
		} else {
			invalid = append(invalid, hd.Symbol)
		}
	}

	message := fmt.Sprintf("Imported %d valid tickers", len(valid))
	if len(invalid) > 0 {
		message += fmt.Sprintf(", %d not found", len(invalid))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"holdings":        valid,
		"invalid_tickers": invalid,
		"errors":          imported.Errors,
		"message":         message,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeSaveError(w http.ResponseWriter, err error) {
	var invalid *portfolios.ValidationError
	if errors.As(err, &invalid) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Error().Err(err).Msg("Failed to save portfolio")
	h.writeError(w, http.StatusInternalServerError, "Failed to save portfolio")
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
