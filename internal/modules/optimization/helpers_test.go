package optimization

import (
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// businessDays returns n weekdays starting at start.
func businessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

// randomWalk builds a price matrix whose column j has daily returns
// drift[j] + vol[j]·N(0,1), reproducible for a seed.
func randomWalk(assets []string, rows int, drift, vol []float64, seed uint64) PriceMatrix {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	pm := PriceMatrix{
		Dates:  businessDays(time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC), rows),
		Assets: assets,
		Prices: make([][]float64, rows),
	}
	last := make([]float64, len(assets))
	for j := range last {
		last[j] = 100
	}
	for i := 0; i < rows; i++ {
		row := make([]float64, len(assets))
		for j := range assets {
			if i > 0 {
				last[j] *= 1 + drift[j] + vol[j]*rng.NormFloat64()
			}
			row[j] = last[j]
		}
		pm.Prices[i] = row
	}
	return pm
}

// trendPrices builds noise-free prices growing at a constant daily rate per column.
func trendPrices(assets []string, rows int, daily []float64) PriceMatrix {
	return randomWalk(assets, rows, daily, make([]float64, len(assets)), 1)
}

func testEngine() *Engine {
	return NewEngine(EngineConfig{
		Solver:        SolverSettings{MaxIterations: 500, OuterIterations: 12},
		RobustWorkers: 4,
		RiskFreeRate:  DefaultRiskFreeRate,
	}, zerolog.Nop())
}
