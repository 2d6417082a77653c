package optimization

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestHHI(t *testing.T) {
	assert.InDelta(t, 0.38, HHI([]float64{0.5, 0.3, 0.2}), 1e-15)
	assert.InDelta(t, 0.25, HHI([]float64{0.25, 0.25, 0.25, 0.25}), 1e-15)
}

func TestDiversificationRatio(t *testing.T) {
	m := &Moments{Cov: mat.NewSymDense(2, []float64{0.04, 0, 0, 0.04}), PeriodsPerYear: 252}
	// (0.5·0.2 + 0.5·0.2) / sqrt(0.5·0.04) = 0.2/0.1414
	assert.InDelta(t, math.Sqrt(2), DiversificationRatio(m, []float64{0.5, 0.5}), 1e-12)

	riskless := &Moments{Cov: mat.NewSymDense(2, nil)}
	assert.Equal(t, 1.0, DiversificationRatio(riskless, []float64{0.5, 0.5}))
}

// covidCrash builds three years of flat prices with a 30% slide between
// 2020-02-19 and 2020-03-23.
func covidCrash() PriceMatrix {
	dates := businessDays(time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC), 756)
	peak := time.Date(2020, 2, 19, 0, 0, 0, 0, time.UTC)
	trough := time.Date(2020, 3, 23, 0, 0, 0, 0, time.UTC)

	var slide int
	for _, d := range dates {
		if d.After(peak) && !d.After(trough) {
			slide++
		}
	}
	step := math.Pow(0.7, 1/float64(slide))

	pm := PriceMatrix{Dates: dates, Assets: []string{"SPY"}, Prices: make([][]float64, len(dates))}
	price := 100.0
	for i, d := range dates {
		if d.After(peak) && !d.After(trough) {
			price *= step
		}
		pm.Prices[i] = []float64{price}
	}
	return pm
}

func TestStressTests_CovidWindow(t *testing.T) {
	res, err := testEngine().Evaluate(context.Background(), covidCrash(), map[string]float64{"SPY": 1}, EvaluateOptions{})
	require.NoError(t, err)

	var covid *StressResult
	for i := range res.StressTests {
		if res.StressTests[i].Name == "Covid-19" {
			covid = &res.StressTests[i]
		}
	}
	require.NotNil(t, covid)
	assert.InDelta(t, -0.30, covid.Return, 0.01)
	assert.Equal(t, "2020-02-19", covid.Start)

	// Windows outside 2019-2021 have no data and are omitted
	for _, st := range res.StressTests {
		assert.NotEqual(t, "2008 Crisis", st.Name)
		assert.NotEqual(t, "2022 Bear", st.Name)
	}

	assert.InDelta(t, -0.30, res.MaxDrawdown, 1e-9)
	assert.Greater(t, res.MaxDrawdownDuration, 0)
}

func TestMonthlyHeatmapAndRollingReturns(t *testing.T) {
	pm := trendPrices([]string{"A"}, 756, []float64{0.0004})
	r, err := BuildReturns(pm)
	require.NoError(t, err)
	ps := NewPortfolioSeries(r, []float64{1})
	months := ps.monthly()

	hm := monthlyHeatmap(months)
	assert.Equal(t, []int{2021, 2020, 2019}, hm.Years)
	require.Len(t, hm.Returns, 3)
	for _, row := range hm.Returns {
		assert.Len(t, row, 12)
	}
	// December 2021 is past the end of the series
	assert.Nil(t, hm.Returns[0][11])
	require.NotNil(t, hm.Returns[1][5])
	assert.Greater(t, *hm.Returns[1][5], 0.0)

	rolling := rollingReturns(months)
	require.Contains(t, rolling, "1 Year")
	assert.Len(t, rolling["1 Year"], len(months)-11)
	assert.NotContains(t, rolling, "3 Years")

	// Constant daily growth annualises to roughly (1.0004)^252 - 1
	assert.InDelta(t, math.Pow(1.0004, 252)-1, rolling["1 Year"][0].Value, 0.02)
}

func TestEvaluate_NormalisesAndScores(t *testing.T) {
	pm := randomWalk([]string{"A", "B"}, 504, []float64{0.0005, 0.0002}, []float64{0.012, 0.006}, 9)

	res, err := testEngine().Evaluate(context.Background(), pm, map[string]float64{"A": 3, "B": 1}, EvaluateOptions{
		HealthWeights: &HealthWeights{Concentration: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, res.Assets)
	assert.InDeltaSlice(t, []float64{0.75, 0.25}, res.Weights, 1e-12)
	assert.InDelta(t, 0.625, res.Diversification.HHI, 1e-12)
	assert.InDelta(t, 1/0.625, res.Diversification.EffectiveNumberOfBets, 1e-12)
	// Only the concentration sub-score carries weight
	assert.InDelta(t, 37.5, res.Diversification.HealthScore, 1e-9)

	total := 0.0
	for _, rc := range res.RiskContributions {
		total += rc
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Len(t, res.EquityCurve, 503)
	assert.Len(t, res.RollingVolatility, 503-rollingVolatilityWindow+1)
	assert.LessOrEqual(t, res.CVaR95, res.VaR95)
}

func TestEvaluate_RejectsZeroWeights(t *testing.T) {
	pm := trendPrices([]string{"A"}, 10, []float64{0.001})
	_, err := testEngine().Evaluate(context.Background(), pm, map[string]float64{"A": 0}, EvaluateOptions{})

	var invalid *InvalidRequestError
	assert.ErrorAs(t, err, &invalid)
}
