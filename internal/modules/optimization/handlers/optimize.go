package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/aristath/optimizer/internal/modules/optimization"
	"github.com/aristath/optimizer/internal/modules/prices"
)

// NamedResult is the analytics of a portfolio the optimized one is compared to.
type NamedResult struct {
	Name  string                           `json:"name"`
	Stats *optimization.OptimizationResult `json:"stats"`
}

// CorrelationMatrix is the pairwise return correlation of the requested tickers.
type CorrelationMatrix struct {
	Assets []string    `json:"assets"`
	Matrix [][]float64 `json:"matrix"`
}

// DiversificationSummary compares diversification across the portfolios.
type DiversificationSummary struct {
	Optimized *optimization.Diversification `json:"optimized"`
	User      *optimization.Diversification `json:"user"`
	Benchmark *optimization.Diversification `json:"benchmark"`
}

// GroupAllocations are group weight totals, in decimals.
type GroupAllocations struct {
	User        map[string]float64            `json:"user"`
	Optimized   map[string]float64            `json:"optimized"`
	Constraints map[string]optimization.Bound `json:"constraints"`
}

// OptimizeResponse is the body returned by POST /api/optimize and cached
// under ResultID.
type OptimizeResponse struct {
	ResultID          string                           `json:"result_id,omitempty"`
	AnalysisPeriod    optimization.AnalysisPeriod      `json:"analysis_period"`
	Optimized         *optimization.OptimizationResult `json:"optimized_portfolio"`
	User              *NamedResult                     `json:"user_portfolio"`
	Benchmark         *NamedResult                     `json:"benchmark_portfolio"`
	FrontierScatter   []optimization.FrontierPoint     `json:"frontier_scatter"`
	CorrelationMatrix CorrelationMatrix                `json:"correlation_matrix"`
	Diversification   *DiversificationSummary          `json:"diversification"`
	GroupAllocations  *GroupAllocations                `json:"group_allocations,omitempty"`
}

// HandleOptimize handles POST /api/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	kind, err := optimization.ParseObjectiveKind(req.objective())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
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

	benchmark := req.benchmark()
	pm, benchmark, err := h.loadPrices(ctx, tickers, benchmark, kind.NeedsBenchmark(), start, end)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	var groups *optimization.GroupConstraintSpec
	var membership map[string]string
	if req.UseGroupConstraints && len(req.GroupConstraints) > 0 {
		membership, err = h.prices.GetAssetGroups(ctx, tickers)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		groups = &optimization.GroupConstraintSpec{Bounds: groupBounds(req.GroupConstraints), Membership: membership}
		for name, b := range groups.Bounds {
			h.log.Debug().Str("group", name).Str("bounds", describeBound(b)).Msg("Group constraint")
		}
	}

	engineReq := optimization.Request{
		Prices:              pm,
		Assets:              tickers,
		Objective:           kind,
		RiskFreeRate:        req.RiskFreeRate,
		Bounds:              assetBounds(req.Constraints.Assets),
		Groups:              groups,
		Targets:             req.targets(),
		Robust:              req.Robust,
		RobustResamples:     req.RobustResamples,
		PerturbationScale:   req.PerturbationScale,
		Seed:                req.Seed,
		CovarianceEstimator: optimization.CovarianceEstimator(req.CovarianceEstimator),
		HealthWeights:       req.HealthScoreWeights,
	}
	if kind.NeedsBenchmark() {
		engineReq.Benchmark = benchmark
	}

	started := time.Now()
	optimized, err := h.engine.Optimize(ctx, engineReq)
	if err != nil {
		h.log.Warn().Err(err).Str("objective", string(kind)).Int("assets", len(tickers)).Msg("Optimization failed")
		h.writeFailure(w, err)
		return
	}
	h.log.Info().
		Str("objective", string(optimized.Objective)).
		Int("assets", len(tickers)).
		Int("periods", optimized.Period.Periods).
		Dur("elapsed", time.Since(started)).
		Msg("Optimization completed")

	opts := optimization.EvaluateOptions{RiskFreeRate: req.RiskFreeRate, HealthWeights: req.HealthScoreWeights}
	resp := &OptimizeResponse{
		AnalysisPeriod: optimized.Period,
		Optimized:      optimized,
		User:           h.userPortfolio(ctx, pm, tickers, req.UserWeights, opts),
		Benchmark:      h.benchmarkPortfolio(ctx, pm, benchmark, req.UserBenchmarkID, start, end, opts),
	}

	if resp.FrontierScatter, err = h.engine.RandomPortfolios(pm, tickers, RandomPortfolioCount, req.Seed, req.RiskFreeRate, 0); err != nil {
		h.writeFailure(w, err)
		return
	}
	corr, err := h.engine.Correlations(pm, tickers)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	resp.CorrelationMatrix = CorrelationMatrix{Assets: tickers, Matrix: corr}

	if req.includeDiversification() {
		resp.Diversification = &DiversificationSummary{Optimized: &optimized.Diversification}
		if resp.User != nil {
			resp.Diversification.User = &resp.User.Stats.Diversification
		}
		if resp.Benchmark != nil {
			resp.Diversification.Benchmark = &resp.Benchmark.Stats.Diversification
		}
	}

	if groups != nil {
		resp.GroupAllocations = &GroupAllocations{
			User:        groupTotals(membership, normalised(req.UserWeights)),
			Optimized:   groupTotals(membership, optimized.WeightMap),
			Constraints: groups.Bounds,
		}
	}

	if h.results != nil {
		if id, err := h.results.Save(ctx, string(optimized.Objective), resp); err != nil {
			h.log.Warn().Err(err).Msg("Failed to cache result")
		} else {
			resp.ResultID = id
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// loadPrices fetches tickers plus the benchmark column. A benchmark without
// data is dropped unless the objective needs it.
func (h *Handler) loadPrices(ctx context.Context, tickers []string, benchmark string, needsBenchmark bool, start, end time.Time) (optimization.PriceMatrix, string, error) {
	fetch := tickers
	if benchmark != "" && !contains(tickers, benchmark) {
		fetch = append(append([]string(nil), tickers...), benchmark)
	}

	pm, err := h.prices.GetPriceMatrix(ctx, fetch, start, end)
	var missing *prices.MissingSymbolsError
	if err != nil && errors.As(err, &missing) && !needsBenchmark &&
		len(missing.Symbols) == 1 && missing.Symbols[0] == benchmark && !contains(tickers, benchmark) {
		h.log.Warn().Str("benchmark", benchmark).Msg("Benchmark has no price data, comparing without it")
		pm, err = h.prices.GetPriceMatrix(ctx, tickers, start, end)
		benchmark = ""
	}
	if err != nil {
		return optimization.PriceMatrix{}, "", err
	}
	if benchmark == "" && needsBenchmark {
		return optimization.PriceMatrix{}, "", &optimization.InvalidRequestError{Field: "benchmark", Reason: "required by this objective"}
	}
	return pm, benchmark, nil
}

// userPortfolio evaluates the caller's weights over the requested tickers.
// Weights for other symbols are ignored; all-zero weights yield nil.
func (h *Handler) userPortfolio(ctx context.Context, pm optimization.PriceMatrix, tickers []string, weights map[string]float64, opts optimization.EvaluateOptions) *NamedResult {
	if len(weights) == 0 {
		return nil
	}
	normalisedWeights := normalised(weights)
	inUniverse := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if w, ok := normalisedWeights[t]; ok {
			inUniverse[t] = w
		}
	}

	res, err := h.engine.Evaluate(ctx, pm, inUniverse, opts)
	if err != nil {
		h.log.Debug().Err(err).Msg("Skipping user portfolio")
		return nil
	}
	return &NamedResult{Name: "user", Stats: res}
}

// benchmarkPortfolio evaluates the saved portfolio savedID when given, and
// the benchmark column otherwise.
func (h *Handler) benchmarkPortfolio(ctx context.Context, pm optimization.PriceMatrix, benchmark, savedID string, start, end time.Time, opts optimization.EvaluateOptions) *NamedResult {
	if savedID != "" && h.portfolios != nil {
		saved, err := h.portfolios.Get(ctx, savedID)
		if err != nil || saved == nil {
			h.log.Warn().Err(err).Str("portfolio_id", savedID).Msg("Failed to load benchmark portfolio")
			return nil
		}
		bpm, err := h.prices.GetPriceMatrix(ctx, saved.Symbols(), start, end)
		if err != nil {
			h.log.Warn().Err(err).Str("portfolio_id", savedID).Msg("Failed to load benchmark prices")
			return nil
		}
		res, err := h.engine.Evaluate(ctx, bpm, saved.Weights(), opts)
		if err != nil {
			h.log.Warn().Err(err).Str("portfolio_id", savedID).Msg("Failed to evaluate benchmark portfolio")
			return nil
		}
		return &NamedResult{Name: saved.Name, Stats: res}
	}

	if benchmark == "" || pm.Column(benchmark) < 0 {
		return nil
	}
	res, err := h.engine.Evaluate(ctx, pm, map[string]float64{benchmark: 1}, opts)
	if err != nil {
		h.log.Warn().Err(err).Str("benchmark", benchmark).Msg("Failed to evaluate benchmark")
		return nil
	}
	return &NamedResult{Name: benchmark, Stats: res}
}

// normalised upper-cases keys and scales weights to sum to 1.
func normalised(weights map[string]float64) map[string]float64 {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	out := make(map[string]float64, len(weights))
	if total <= 0 {
		return out
	}
	for k, w := range weights {
		symbols := prices.NormalizeSymbols([]string{k})
		if w > 0 && len(symbols) == 1 {
			out[symbols[0]] += w / total
		}
	}
	return out
}

func groupTotals(membership map[string]string, weights map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	symbols := make([]string, 0, len(weights))
	for s := range weights {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		group, ok := membership[s]
		if !ok {
			continue
		}
		out[group] += weights[s]
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
