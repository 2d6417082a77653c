package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/optimizer/internal/database"
	"github.com/aristath/optimizer/internal/modules/portfolios"
	"github.com/aristath/optimizer/internal/modules/prices"
	testingpkg "github.com/aristath/optimizer/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) chi.Router {
	t.Helper()
	master := testingpkg.NewTestDB(t, database.Master)
	working := testingpkg.NewTestDB(t, database.Working)

	priceRepo := prices.NewRepository(master.Conn(), working.Conn(), zerolog.Nop())
	require.NoError(t, priceRepo.UpsertPrices(context.Background(), testingpkg.NewPriceFixtures(
		[]string{"SPY.US", "TLT.US"}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10, 1)))

	h := NewHandler(portfolios.NewRepository(working.Conn(), zerolog.Nop()), priceRepo, zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return router
}

func do(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestPortfolioLifecycle(t *testing.T) {
	router := setup(t)

	rec := do(t, router, http.MethodPost, "/api/portfolios", map[string]interface{}{
		"name":    "Core",
		"tickers": []string{"SPY.US", "TLT.US"},
		"weights": map[string]float64{"SPY.US": 0.6, "TLT.US": 0.4},
		"constraints": map[string]interface{}{
			"assets": map[string]interface{}{"TLT.US": map[string]float64{"min": 0.2}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created portfolios.Portfolio
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.Holdings, 2)
	require.NotNil(t, created.Holdings[1].Min)
	assert.Equal(t, 0.2, *created.Holdings[1].Min)

	rec = do(t, router, http.MethodGet, "/api/portfolios/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/portfolios/"+created.ID, map[string]interface{}{
		"name":    "Core v2",
		"tickers": []string{"SPY.US"},
		"weights": map[string]float64{"SPY.US": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/portfolios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Portfolios []portfolios.Portfolio `json:"portfolios"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Portfolios, 1)
	assert.Equal(t, "Core v2", list.Portfolios[0].Name)

	rec = do(t, router, http.MethodDelete, "/api/portfolios/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/portfolios/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, http.MethodDelete, "/api/portfolios/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreate_Invalid(t *testing.T) {
	router := setup(t)

	rec := do(t, router, http.MethodPost, "/api/portfolios", map[string]interface{}{"name": "No tickers"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/portfolios", map[string]interface{}{
		"name":    "Dupes",
		"tickers": []string{"SPY.US", "spy.us"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportAndExportCSV(t *testing.T) {
	router := setup(t)

	rec := do(t, router, http.MethodPost, "/api/portfolios/import-csv", map[string]string{
		"csv": "ticker,weight_pct\nspy,60\nTLT.US,40\nZZZ,0\n",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var imported struct {
		Holdings []portfolios.Holding `json:"holdings"`
		Invalid  []string             `json:"invalid_tickers"`
		Message  string               `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &imported))
	require.Len(t, imported.Holdings, 2)
	assert.Equal(t, "SPY.US", imported.Holdings[0].Symbol)
	assert.Equal(t, []string{"ZZZ.US"}, imported.Invalid)
	assert.Equal(t, "Imported 2 valid tickers, 1 not found", imported.Message)

	rec = do(t, router, http.MethodPost, "/api/portfolios/export-csv", map[string]interface{}{
		"tickers": []string{"SPY.US", "TLT.US"},
		"weights": map[string]float64{"SPY.US": 0.6, "TLT.US": 0.4},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var exported map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	assert.Equal(t, "ticker,weight_pct,min_pct,max_pct\nSPY.US,60.0,,\nTLT.US,40.0,,\n", exported["csv"])
	assert.Contains(t, exported["filename"], "portfolio_")

	rec = do(t, router, http.MethodPost, "/api/portfolios/import-csv", map[string]string{"csv": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
