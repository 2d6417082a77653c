package formulas

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile (0..100) using linear interpolation
// between closest ranks, the same convention as numpy's default.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// HistoricalVaR is the (100-confidence*100)-th percentile of returns,
// e.g. the 5th percentile for confidence 0.95. Losses are negative.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	return Percentile(returns, (1-confidence)*100)
}

// HistoricalCVaR is the mean of all observations at or below the VaR threshold.
func HistoricalCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	threshold := HistoricalVaR(returns, confidence)
	sum := 0.0
	count := 0
	for _, r := range returns {
		if r <= threshold {
			sum += r
			count++
		}
	}
	if count == 0 {
		// Interpolated thresholds are never below the minimum, so this only
		// guards against NaN input.
		return threshold
	}
	return sum / float64(count)
}

// DownsideDeviation is the sample standard deviation of the strictly negative
// returns. ok is false when there are no negative returns at all.
func DownsideDeviation(returns []float64) (dev float64, ok bool) {
	negatives := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		return 0, false
	}
	return StdDev(negatives), true
}

// Drawdowns returns the equity curve (cumulative product of 1+r) and the
// drawdown curve (equity / running peak - 1). The running peak starts at the
// first equity value, not at 1.
func Drawdowns(returns []float64) (equity, drawdown []float64) {
	equity = make([]float64, len(returns))
	drawdown = make([]float64, len(returns))

	growth := 1.0
	peak := math.Inf(-1)
	for i, r := range returns {
		growth *= 1 + r
		equity[i] = growth
		if growth > peak {
			peak = growth
		}
		if peak != 0 {
			drawdown[i] = growth/peak - 1
		}
	}
	return equity, drawdown
}

// MaxDrawdown is the most negative drawdown value (0 for a series that never declines).
func MaxDrawdown(returns []float64) float64 {
	_, dd := Drawdowns(returns)
	worst := 0.0
	for _, d := range dd {
		if d < worst {
			worst = d
		}
	}
	return worst
}

// LongestUnderwater counts the longest run of consecutive periods with a negative drawdown.
func LongestUnderwater(drawdown []float64) int {
	longest, run := 0, 0
	for _, d := range drawdown {
		if d < 0 {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest
}
