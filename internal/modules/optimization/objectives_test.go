package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func inputsFor(t *testing.T, pm PriceMatrix, rf float64) *ObjectiveInputs {
	t.Helper()
	r, err := BuildReturns(pm)
	require.NoError(t, err)
	m := EstimateMoments(r, DefaultPeriodsPerYear, CovarianceSample)
	return &ObjectiveInputs{
		Mean:           m.Mean,
		Cov:            m.Cov,
		Returns:        r.Returns,
		RiskFreeRate:   rf,
		PeriodsPerYear: DefaultPeriodsPerYear,
	}
}

func TestNegativeSharpe_ZeroVolatilityIsInf(t *testing.T) {
	in := inputsFor(t, trendPrices([]string{"A"}, 20, []float64{0.001}), 0)
	assert.True(t, math.IsInf(NegativeSharpe(in)([]float64{1}), 1))
}

func TestNegativeSharpe(t *testing.T) {
	in := &ObjectiveInputs{
		Mean:         []float64{0.10, 0.05},
		Cov:          mat.NewSymDense(2, []float64{0.04, 0, 0, 0.01}),
		RiskFreeRate: 0.02,
	}
	// σ = sqrt(0.25·0.04 + 0.25·0.01), μ = 0.075
	vol := math.Sqrt(0.0125)
	assert.InDelta(t, -(0.075-0.02)/vol, NegativeSharpe(in)([]float64{0.5, 0.5}), 1e-12)
	assert.InDelta(t, vol, Volatility(in)([]float64{0.5, 0.5}), 1e-12)
	assert.InDelta(t, -0.075, NegativeReturn(in)([]float64{0.5, 0.5}), 1e-12)
}

func TestRiskContributions_SumToVolatility(t *testing.T) {
	cov := mat.NewSymDense(3, []float64{
		0.04, 0.01, 0.00,
		0.01, 0.09, 0.02,
		0.00, 0.02, 0.16,
	})
	w := []float64{0.5, 0.3, 0.2}

	rc, vol, ok := RiskContributions(cov, w)
	require.True(t, ok)
	assert.InDelta(t, vol, sum(rc), 1e-12)
}

func TestRiskParity_RisklessSentinel(t *testing.T) {
	in := &ObjectiveInputs{Cov: mat.NewSymDense(2, nil)}
	assert.Equal(t, riskParitySentinel, RiskParity(in)([]float64{0.5, 0.5}))
}

func TestRiskParity_ZeroForEqualRiskIdenticalAssets(t *testing.T) {
	in := &ObjectiveInputs{Cov: mat.NewSymDense(2, []float64{0.04, 0, 0, 0.04})}
	assert.InDelta(t, 0.0, RiskParity(in)([]float64{0.5, 0.5}), 1e-15)
	assert.Greater(t, RiskParity(in)([]float64{0.8, 0.2}), 0.0)
}

func TestNegativeOmega_NoLossesIsZero(t *testing.T) {
	in := inputsFor(t, trendPrices([]string{"A"}, 20, []float64{0.01}), 0)
	assert.Equal(t, 0.0, NegativeOmega(in)([]float64{1}))
}

func TestNegativeSortino_UsesFloorWithoutNegatives(t *testing.T) {
	in := inputsFor(t, trendPrices([]string{"A"}, 20, []float64{0.001}), 0)
	expected := -(0.001 * DefaultPeriodsPerYear) / sortinoDownsideFloor
	assert.InDelta(t, expected, NegativeSortino(in)([]float64{1}), 1e-3)
}

func TestTrackingObjectives_IdenticalToBenchmark(t *testing.T) {
	pm := randomWalk([]string{"A", "B"}, 100, []float64{0.0005, 0.0002}, []float64{0.01, 0.02}, 3)
	in := inputsFor(t, pm, 0)
	in.Benchmark = mat.Col(nil, 0, in.Returns)

	w := []float64{1, 0}
	assert.InDelta(t, 0.0, TrackingError(in)(w), 1e-12)
	assert.Equal(t, 0.0, NegativeInformationRatio(in)(w))
	assert.InDelta(t, 0.0, NegativeExcessReturn(in)(w), 1e-12)
	assert.Greater(t, TrackingError(in)([]float64{0, 1}), 0.0)
}

func TestNegativeKelly(t *testing.T) {
	in := inputsFor(t, trendPrices([]string{"A"}, 20, []float64{0.001}), 0)
	assert.InDelta(t, -0.001*DefaultPeriodsPerYear, NegativeKelly(in)([]float64{1}), 1e-9)
}

func TestLossObjectives_AreNonNegativeMagnitudes(t *testing.T) {
	pm := randomWalk([]string{"A", "B"}, 300, []float64{0.0003, 0.0001}, []float64{0.015, 0.01}, 11)
	in := inputsFor(t, pm, 0)
	w := []float64{0.6, 0.4}

	cvar := PortfolioCVaR(in, w)
	assert.Less(t, cvar, 0.0)
	assert.InDelta(t, -cvar, CVaRLoss(in)(w), 1e-15)
	assert.Greater(t, DrawdownLoss(in)(w), 0.0)
}
