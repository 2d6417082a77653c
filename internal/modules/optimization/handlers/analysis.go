package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/aristath/optimizer/internal/modules/optimization"
	"github.com/aristath/optimizer/internal/modules/prices"
	"github.com/go-chi/chi/v5"
)

// HandlePortfolioStats handles POST /api/portfolio/stats
func (h *Handler) HandlePortfolioStats(w http.ResponseWriter, r *http.Request) {
	var req StatsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	start, end, err := dateRange(req.StartDate, req.EndDate, "")
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	weights := make(map[string]float64, len(req.Weights))
	symbols := make([]string, 0, len(req.Weights))
	for k, v := range req.Weights {
		norm := prices.NormalizeSymbols([]string{k})
		if len(norm) == 0 {
			h.writeError(w, http.StatusBadRequest, "Empty symbol in weights")
			return
		}
		weights[norm[0]] += v
		symbols = append(symbols, norm[0])
	}
	sort.Strings(symbols)

	pm, err := h.prices.GetPriceMatrix(ctx, symbols, start, end)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	res, err := h.engine.Evaluate(ctx, pm, weights, optimization.EvaluateOptions{
		RiskFreeRate:  req.RiskFreeRate,
		HealthWeights: req.HealthScoreWeights,
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleFrontier handles POST /api/frontier
func (h *Handler) HandleFrontier(w http.ResponseWriter, r *http.Request) {
	var req FrontierRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	start, end, err := dateRange(req.StartDate, req.EndDate, DefaultStartDate)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	tickers := prices.NormalizeSymbols(req.Tickers)
	if err := h.prices.CheckCoverage(ctx, tickers, start); err != nil {
		h.writeFailure(w, err)
		return
	}
	pm, err := h.prices.GetPriceMatrix(ctx, tickers, start, end)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	var groups *optimization.GroupConstraintSpec
	if req.UseGroupConstraints && len(req.GroupConstraints) > 0 {
		membership, err := h.prices.GetAssetGroups(ctx, tickers)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		groups = &optimization.GroupConstraintSpec{Bounds: groupBounds(req.GroupConstraints), Membership: membership}
	}

	points, err := h.engine.EfficientFrontier(ctx, optimization.FrontierRequest{
		Prices:              pm,
		Assets:              tickers,
		Bounds:              assetBounds(req.Constraints.Assets),
		Groups:              groups,
		Points:              req.Points,
		RiskFreeRate:        req.RiskFreeRate,
		CovarianceEstimator: optimization.CovarianceEstimator(req.CovarianceEstimator),
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": tickers,
		"points": points,
	})
}

// HandleGetResult handles GET /api/results/{id}
func (h *Handler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		h.writeError(w, http.StatusNotFound, "Result caching is disabled")
		return
	}
	id := chi.URLParam(r, "id")

	var resp OptimizeResponse
	found, err := h.results.Get(r.Context(), id, &resp)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, "Result not found or expired")
		return
	}
	resp.ResultID = id
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleCoverage handles GET /api/assets/coverage?symbols=A,B
func (h *Handler) HandleCoverage(w http.ResponseWriter, r *http.Request) {
	symbols := prices.NormalizeSymbols(strings.Split(r.URL.Query().Get("symbols"), ","))
	if len(symbols) == 0 {
		h.writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	coverage, err := h.prices.GetCoverage(r.Context(), symbols)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	found := make(map[string]bool, len(coverage))
	for _, c := range coverage {
		found[c.Symbol] = true
	}
	missing := []string{}
	for _, s := range symbols {
		if !found[s] {
			missing = append(missing, s)
		}
	}
	if coverage == nil {
		coverage = []prices.Coverage{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"coverage": coverage,
		"missing":  missing,
	})
}

// HandleAssetGroups handles GET /api/assets/groups?symbols=A,B
func (h *Handler) HandleAssetGroups(w http.ResponseWriter, r *http.Request) {
	symbols := prices.NormalizeSymbols(strings.Split(r.URL.Query().Get("symbols"), ","))
	if len(symbols) == 0 {
		h.writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	groups, err := h.prices.GetAssetGroups(r.Context(), symbols)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	summary := make(map[string][]string)
	for _, s := range symbols {
		summary[groups[s]] = append(summary[groups[s]], s)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups":        groups,
		"group_summary": summary,
	})
}

// HandleMethods handles GET /api/methods
func (h *Handler) HandleMethods(w http.ResponseWriter, r *http.Request) {
	type method struct {
		Name           string `json:"name"`
		Target         string `json:"target,omitempty"`
		NeedsBenchmark bool   `json:"needs_benchmark"`
		Robust         bool   `json:"robust"`
	}
	kinds := optimization.Kinds()
	out := make([]method, len(kinds))
	for i, k := range kinds {
		out[i] = method{Name: string(k), Target: k.Target(), NeedsBenchmark: k.NeedsBenchmark(), Robust: k.IsRobust()}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"methods": out})
}
