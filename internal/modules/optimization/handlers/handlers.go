// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/optimizer/internal/modules/optimization"
	"github.com/aristath/optimizer/internal/modules/portfolios"
	"github.com/aristath/optimizer/internal/modules/prices"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// PriceSource loads aligned price matrices and asset metadata.
type PriceSource interface {
	GetPriceMatrix(ctx context.Context, symbols []string, start, end time.Time) (optimization.PriceMatrix, error)
	GetCoverage(ctx context.Context, symbols []string) ([]prices.Coverage, error)
	CheckCoverage(ctx context.Context, symbols []string, start time.Time) error
	GetAssetGroups(ctx context.Context, symbols []string) (map[string]string, error)
}

// PortfolioSource looks up saved portfolios used as benchmarks.
type PortfolioSource interface {
	Get(ctx context.Context, id string) (*portfolios.Portfolio, error)
}

// ResultStore caches optimize responses.
type ResultStore interface {
	Save(ctx context.Context, objective string, result interface{}) (string, error)
	Get(ctx context.Context, id string, out interface{}) (bool, error)
}

// Handler handles optimization HTTP requests
type Handler struct {
	engine     *optimization.Engine
	prices     PriceSource
	portfolios PortfolioSource
	results    ResultStore
	validate   *validator.Validate
	log        zerolog.Logger
}

// NewHandler creates a new optimization handler. portfolios and results may
// be nil; saved-portfolio benchmarks and result caching are then disabled.
func NewHandler(
	engine *optimization.Engine,
	priceSource PriceSource,
	portfolioSource PortfolioSource,
	results ResultStore,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		engine:     engine,
		prices:     priceSource,
		portfolios: portfolioSource,
		results:    results,
		validate:   validator.New(),
		log:        log.With().Str("handler", "optimization").Logger(),
	}
}

// decode reads a JSON body into v and validates its struct tags.
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

// writeFailure maps domain errors to HTTP status codes.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	var (
		gap          *prices.CoverageGapError
		missing      *prices.MissingSymbolsError
		invalid      *optimization.InvalidRequestError
		shape        *optimization.InputShapeError
		nonConverged *optimization.SolverNonConvergenceError
	)

	switch {
	case errors.As(err, &gap):
		details := make([]string, len(gap.Limiting))
		copy(details, gap.Limiting)
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":                "coverage_gap",
			"message":              gap.Error(),
			"suggested_start_date": gap.SuggestedStart.Format(prices.DateLayout),
			"details":              details,
		})
	case errors.As(err, &missing):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalid), errors.As(err, &shape):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &nonConverged):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "Optimization timed out")
	default:
		h.log.Error().Err(err).Msg("Request failed")
		h.writeError(w, http.StatusInternalServerError, "Optimization failed: "+err.Error())
	}
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
