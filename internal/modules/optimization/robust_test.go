package optimization

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestPerturb_LeavesInputsUntouched(t *testing.T) {
	mean := []float64{0.1, 0.2}
	cov := mat.NewSymDense(2, []float64{0.04, 0.01, 0.01, 0.09})
	covCopy := mat.NewSymDense(2, nil)
	covCopy.CopySym(cov)

	rng := rand.New(rand.NewPCG(1, 2))
	p := perturb(rng, mean, cov, 0.1)

	assert.Equal(t, []float64{0.1, 0.2}, mean)
	assert.True(t, mat.Equal(cov, covCopy))
	assert.NotEqual(t, mean, p.mean)
	assert.Equal(t, p.cov.At(0, 1), p.cov.At(1, 0))
}

func TestClipEigenvalues_RestoresPSD(t *testing.T) {
	// Eigenvalues 3 and -1
	c := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	out := clipEigenvalues(c, eigenFloor)

	var eig mat.EigenSym
	require.True(t, eig.Factorize(out, false))
	for _, v := range eig.Values(nil) {
		assert.GreaterOrEqual(t, v, eigenFloor-1e-12)
	}
}

func TestRobustMaxSharpe_DeterministicWithSeed(t *testing.T) {
	pm := randomWalk([]string{"A", "B", "C"}, 504, []float64{0.0006, 0.0003, 0.0002}, []float64{0.015, 0.01, 0.005}, 21)
	req := Request{
		Prices:          pm,
		Objective:       RobustMaxSharpe,
		RobustResamples: 50,
		Seed:            42,
		Bounds:          AssetBounds{"A": {Min: 0.1, Max: 0.6}},
	}

	e := testEngine()
	first, err := e.Optimize(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Optimize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Weights, second.Weights)
	require.NotNil(t, first.Robust)
	assert.Equal(t, 50, first.Robust.Resamples)
	assert.Positive(t, first.Robust.Succeeded)

	assert.InDelta(t, 1.0, sum(first.Weights), ConstraintTolerance)
	assert.GreaterOrEqual(t, first.Weights[0], 0.1-ConstraintTolerance)
	assert.LessOrEqual(t, first.Weights[0], 0.6+ConstraintTolerance)
	for _, w := range first.Weights {
		assert.GreaterOrEqual(t, w, -ConstraintTolerance)
	}
}

func TestRobustFlag_SelectsRobustVariant(t *testing.T) {
	pm := randomWalk([]string{"A", "B"}, 300, []float64{0.0004, 0.0002}, []float64{0.01, 0.006}, 5)

	res, err := testEngine().Optimize(context.Background(), Request{
		Prices:          pm,
		Objective:       MinVolatility,
		Robust:          true,
		RobustResamples: 10,
		Seed:            7,
	})
	require.NoError(t, err)
	assert.Equal(t, RobustMinVolatility, res.Objective)
	require.NotNil(t, res.Robust)
	assert.Equal(t, 10, res.Robust.Resamples)
}
