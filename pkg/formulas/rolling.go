package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// RollingVolatility returns the annualized rolling standard deviation of returns
// over `window` periods. The first window-1 entries are undefined and are
// omitted, so the result has len(returns)-window+1 entries.
//
// talib.StdDev uses the population estimator; it is rescaled to the sample
// estimator so that values line up with StdDev above.
func RollingVolatility(returns []float64, window, periodsPerYear int) []float64 {
	if window < 2 || len(returns) < window {
		return nil
	}

	raw := talib.StdDev(returns, window, 1.0)
	if len(raw) != len(returns) {
		return nil
	}

	correction := math.Sqrt(float64(window) / float64(window-1))
	annualize := math.Sqrt(float64(periodsPerYear))

	out := make([]float64, 0, len(returns)-window+1)
	for i := window - 1; i < len(raw); i++ {
		v := raw[i]
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		out = append(out, v*correction*annualize)
	}
	return out
}
