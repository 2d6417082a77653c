package optimization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	kinds []ObjectiveKind
	errs  []error
}

func (o *recordingObserver) ObserveOptimization(kind ObjectiveKind, _ time.Duration, err error) {
	o.kinds = append(o.kinds, kind)
	o.errs = append(o.errs, err)
}

func TestOptimize_EqualWeightIsExact(t *testing.T) {
	pm := randomWalk([]string{"A", "B", "C"}, 252, []float64{0.0004, 0.0002, 0.0001}, []float64{0.01, 0.008, 0.004}, 2)

	res, err := testEngine().Optimize(context.Background(), Request{Prices: pm, Objective: EqualWeight})
	require.NoError(t, err)

	for _, w := range res.Weights {
		assert.Equal(t, 1.0/3, w)
	}

	r, err := BuildReturns(pm)
	require.NoError(t, err)
	m := EstimateMoments(r, DefaultPeriodsPerYear, CovarianceSample)
	assert.InDelta(t, PortfolioReturn(m.Mean, res.Weights), res.Return, 1e-12)
	assert.InDelta(t, PortfolioVolatility(m.Cov, res.Weights), res.Volatility, 1e-12)
}

func TestOptimize_ConstantPriceMinVolatility(t *testing.T) {
	pm := trendPrices([]string{"CASH"}, 100, []float64{0})

	res, err := testEngine().Optimize(context.Background(), Request{Prices: pm, Objective: MinVolatility})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Volatility, 1e-12)
	assert.InDeltaSlice(t, []float64{1}, res.Weights, 1e-12)
	assert.Equal(t, 0.0, res.Sharpe)
}

func TestOptimize_ZeroVarianceMaxSharpeFails(t *testing.T) {
	// Every feasible portfolio has zero volatility, so the Sharpe objective is
	// +Inf everywhere and no solution is accepted.
	pm := trendPrices([]string{"A", "B", "C"}, 504, []float64{0.0005, 0.0003, 0.0001})
	obs := &recordingObserver{}
	e := testEngine()
	e.SetObserver(obs)

	_, err := e.Optimize(context.Background(), Request{Prices: pm, Objective: MaxSharpe, RiskFreeRate: ptr(0)})

	var nc *SolverNonConvergenceError
	require.True(t, errors.As(err, &nc), "expected non-convergence, got %v", err)
	assert.Equal(t, MaxSharpe, nc.Objective)
	assert.Equal(t, 3, nc.Assets)
	assert.Contains(t, err.Error(), "did not converge for max_sharpe")

	require.Len(t, obs.kinds, 1)
	assert.Error(t, obs.errs[0])
}

func TestOptimize_TargetReturnMonotonicity(t *testing.T) {
	pm := randomWalk([]string{"HIGH", "LOW"}, 756, []float64{0.0008, 0.0001}, []float64{0.012, 0.004}, 2)
	r, err := BuildReturns(pm)
	require.NoError(t, err)
	m := EstimateMoments(r, DefaultPeriodsPerYear, CovarianceSample)
	require.Greater(t, m.Mean[0], m.Mean[1])

	e := testEngine()
	prev := -1.0
	for _, frac := range []float64{0.05, 0.2, 0.4, 0.6, 0.8, 0.95, 0.999} {
		target := m.Mean[1] + frac*(m.Mean[0]-m.Mean[1])
		res, err := e.Optimize(context.Background(), Request{
			Prices:    pm,
			Objective: MinVolTargetReturn,
			Targets:   Targets{Return: ptr(target)},
		})
		require.NoError(t, err, "target %.4f", target)

		assert.GreaterOrEqual(t, res.Return, target-TargetTolerance)
		assert.GreaterOrEqual(t, res.Weights[0], prev-1e-3, "weight on HIGH decreased at target %.4f", target)
		prev = res.Weights[0]
	}
}

func TestOptimize_InfeasibleTargetReportsTarget(t *testing.T) {
	pm := randomWalk([]string{"A", "B"}, 252, []float64{0.0003, 0.0001}, []float64{0.01, 0.005}, 4)

	_, err := testEngine().Optimize(context.Background(), Request{
		Prices:    pm,
		Objective: MinVolTargetReturn,
		Targets:   Targets{Return: ptr(5.0)},
	})

	var nc *SolverNonConvergenceError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, TargetReturn, nc.Target)
	assert.Contains(t, err.Error(), "no feasible portfolio meets target return of 500.00%")
}

func TestOptimize_GroupInvariant(t *testing.T) {
	pm := randomWalk([]string{"SPY", "QQQ", "TLT", "GLD"}, 504,
		[]float64{0.0005, 0.0007, 0.0001, 0.0002}, []float64{0.012, 0.016, 0.008, 0.009}, 17)

	groups := &GroupConstraintSpec{
		Bounds: map[string]Bound{
			"Equities":     {Min: 0.3, Max: 0.5},
			"Fixed Income": {Min: 0.3, Max: 0.6},
		},
		Membership: map[string]string{"SPY": "Equities", "QQQ": "Equities", "TLT": "Fixed Income", "GLD": "Other"},
	}

	for _, kind := range []ObjectiveKind{MaxSharpe, MinVolatility, RiskParityKind, MaxKelly, MinCVaR} {
		t.Run(string(kind), func(t *testing.T) {
			res, err := testEngine().Optimize(context.Background(), Request{
				Prices:    pm,
				Objective: kind,
				Groups:    groups,
				Bounds:    AssetBounds{"GLD": {Min: 0, Max: 0.15}},
			})
			require.NoError(t, err)

			w := res.WeightMap
			assert.InDelta(t, 1.0, sum(res.Weights), ConstraintTolerance)
			eq := w["SPY"] + w["QQQ"]
			assert.GreaterOrEqual(t, eq, 0.3-ConstraintTolerance)
			assert.LessOrEqual(t, eq, 0.5+ConstraintTolerance)
			assert.GreaterOrEqual(t, w["TLT"], 0.3-ConstraintTolerance)
			assert.LessOrEqual(t, w["TLT"], 0.6+ConstraintTolerance)
			assert.LessOrEqual(t, w["GLD"], 0.15+ConstraintTolerance)
			for _, x := range res.Weights {
				assert.GreaterOrEqual(t, x, -ConstraintTolerance)
			}
		})
	}
}

func TestOptimize_Benchmark(t *testing.T) {
	pm := randomWalk([]string{"A", "B", "SPY"}, 504, []float64{0.0004, 0.0002, 0.0003}, []float64{0.01, 0.006, 0.008}, 19)

	t.Run("missing benchmark parameter", func(t *testing.T) {
		_, err := testEngine().Optimize(context.Background(), Request{Prices: pm, Objective: MinTrackingError})
		var invalid *InvalidRequestError
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, "benchmark", invalid.Field)
	})

	t.Run("benchmark not in prices", func(t *testing.T) {
		_, err := testEngine().Optimize(context.Background(), Request{Prices: pm, Objective: MinTrackingError, Benchmark: "QQQ"})
		var shape *InputShapeError
		require.True(t, errors.As(err, &shape))
		assert.Equal(t, "QQQ", shape.Asset)
	})

	t.Run("benchmark is a priced column outside the portfolio", func(t *testing.T) {
		res, err := testEngine().Optimize(context.Background(), Request{
			Prices:    pm,
			Assets:    []string{"A", "B"},
			Objective: MinTrackingError,
			Benchmark: "SPY",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, res.Assets)
		assert.InDelta(t, 1.0, sum(res.Weights), ConstraintTolerance)
	})

	t.Run("tracking error target", func(t *testing.T) {
		res, err := testEngine().Optimize(context.Background(), Request{
			Prices:    pm,
			Objective: MaxExcessReturnTargetTE,
			Benchmark: "SPY",
			Targets:   Targets{TrackingError: ptr(0.05)},
		})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sum(res.Weights), ConstraintTolerance)
	})
}

func TestOptimize_RejectsBadRequests(t *testing.T) {
	pm := randomWalk([]string{"A", "B"}, 100, []float64{0.0003, 0.0001}, []float64{0.01, 0.005}, 4)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"unknown method", Request{Prices: pm, Objective: "max_luck"}, "objective"},
		{"missing target", Request{Prices: pm, Objective: MaxReturnTargetVol}, "target_volatility"},
		{"too many resamples", Request{Prices: pm, Objective: RobustMaxSharpe, RobustResamples: MaxResamples + 1}, "robust_resamples"},
		{"unknown estimator", Request{Prices: pm, Objective: MinVolatility, CovarianceEstimator: "magic"}, "covariance_estimator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testEngine().Optimize(context.Background(), tt.req)
			var invalid *InvalidRequestError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}

	t.Run("single price row", func(t *testing.T) {
		short := PriceMatrix{Dates: pm.Dates[:1], Assets: pm.Assets, Prices: pm.Prices[:1]}
		_, err := testEngine().Optimize(context.Background(), Request{Prices: short, Objective: MaxSharpe})
		var shape *InputShapeError
		assert.True(t, errors.As(err, &shape))
	})
}

func TestEfficientFrontier(t *testing.T) {
	pm := randomWalk([]string{"A", "B", "C"}, 504, []float64{0.0006, 0.0003, 0.0001}, []float64{0.014, 0.008, 0.003}, 23)

	points, err := testEngine().EfficientFrontier(context.Background(), FrontierRequest{Prices: pm, Points: 8})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(points), 2)

	for i := 1; i < len(points); i++ {
		assert.GreaterOrEqual(t, points[i].Return, points[i-1].Return-TargetTolerance)
		assert.GreaterOrEqual(t, points[i].Volatility, points[0].Volatility-1e-6)
	}
}

func TestRandomPortfolios(t *testing.T) {
	pm := randomWalk([]string{"A", "B", "C"}, 252, []float64{0.0006, 0.0003, 0.0001}, []float64{0.014, 0.008, 0.003}, 29)
	e := testEngine()

	first, err := e.RandomPortfolios(pm, nil, 0, 1, nil, 0)
	require.NoError(t, err)
	assert.Len(t, first, DefaultRandomPoints)

	second, err := e.RandomPortfolios(pm, nil, 0, 1, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
