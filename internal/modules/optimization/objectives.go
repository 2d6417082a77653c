package optimization

import (
	"math"

	"github.com/aristath/optimizer/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

// Sentinels and guards for degenerate ratios.
const (
	// Below this portfolio volatility a ratio objective treats the portfolio as riskless.
	volatilityEpsilon = 1e-12
	// Returned by the risk parity objective for a riskless portfolio.
	riskParitySentinel = 1e10
	// Downside deviation used by the Sortino objective when it cannot be estimated.
	sortinoDownsideFloor = 1e-6
	// Confidence level for VaR/CVaR.
	tailConfidence = 0.95
)

// ObjectiveInputs is the read-only data every objective is evaluated against.
// Objectives never modify it, so one value can be shared across goroutines.
type ObjectiveInputs struct {
	Mean           []float64     // annualized mean returns
	Cov            *mat.SymDense // annualized covariance
	Returns        *mat.Dense    // periodic returns, T x N
	Benchmark      []float64     // periodic benchmark returns, len T (optional)
	RiskFreeRate   float64
	PeriodsPerYear int
}

// ObjectiveFunc maps a weight vector to a scalar to be minimized.
type ObjectiveFunc func(w []float64) float64

func (in *ObjectiveInputs) periods() float64 {
	if in.PeriodsPerYear <= 0 {
		return DefaultPeriodsPerYear
	}
	return float64(in.PeriodsPerYear)
}

// PortfolioReturn is the annualized expected return μ·w.
func PortfolioReturn(mean, w []float64) float64 {
	sum := 0.0
	for i := range w {
		sum += mean[i] * w[i]
	}
	return sum
}

// PortfolioVolatility is sqrt(wᵀΣw). Tiny negative values from rounding clamp to 0.
func PortfolioVolatility(cov *mat.SymDense, w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	variance := mat.Inner(v, cov, v)
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// NegativeSharpe returns -(μ·w - rf)/σ_p, or +Inf for a riskless portfolio.
func NegativeSharpe(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		vol := PortfolioVolatility(in.Cov, w)
		if vol < volatilityEpsilon {
			return math.Inf(1)
		}
		return -(PortfolioReturn(in.Mean, w) - in.RiskFreeRate) / vol
	}
}

// Volatility returns σ_p.
func Volatility(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		return PortfolioVolatility(in.Cov, w)
	}
}

// NegativeReturn returns -μ·w.
func NegativeReturn(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		return -PortfolioReturn(in.Mean, w)
	}
}

// RiskContributions returns w_i·(Σw)_i/σ_p, which sum to σ_p.
// ok is false when the portfolio is riskless.
func RiskContributions(cov *mat.SymDense, w []float64) (rc []float64, vol float64, ok bool) {
	n := len(w)
	wv := mat.NewVecDense(n, w)
	var sw mat.VecDense
	sw.MulVec(cov, wv)

	vol = PortfolioVolatility(cov, w)
	rc = make([]float64, n)
	if vol < volatilityEpsilon {
		return rc, vol, false
	}
	for i := 0; i < n; i++ {
		rc[i] = w[i] * sw.AtVec(i) / vol
	}
	return rc, vol, true
}

// RiskParity returns Σ(RC_i - σ_p/N)², or a large sentinel for a riskless portfolio.
func RiskParity(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		rc, vol, ok := RiskContributions(in.Cov, w)
		if !ok {
			return riskParitySentinel
		}
		target := vol / float64(len(w))
		sum := 0.0
		for _, c := range rc {
			d := c - target
			sum += d * d
		}
		return sum
	}
}

// PortfolioCVaR is the mean periodic portfolio return at or below the 5th percentile.
// It is negative for a loss.
func PortfolioCVaR(in *ObjectiveInputs, w []float64) float64 {
	return formulas.HistoricalCVaR(portfolioReturns(in.Returns, w), tailConfidence)
}

// CVaRLoss returns the magnitude of the tail loss, -CVaR95, so that minimizing
// it prefers portfolios with smaller tail losses. The sign is flipped on purpose:
// minimizing the signed CVaR would seek the deepest tail.
func CVaRLoss(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		return -PortfolioCVaR(in, w)
	}
}

func excessReturns(in *ObjectiveInputs, w []float64) []float64 {
	rp := portfolioReturns(in.Returns, w)
	for i := range rp {
		rp[i] -= in.Benchmark[i]
	}
	return rp
}

// PortfolioTrackingError is the annualized standard deviation of portfolio minus benchmark returns.
func PortfolioTrackingError(in *ObjectiveInputs, w []float64) float64 {
	return formulas.StdDev(excessReturns(in, w)) * math.Sqrt(in.periods())
}

// TrackingError returns the annualized tracking error against the benchmark.
func TrackingError(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		return PortfolioTrackingError(in, w)
	}
}

// NegativeInformationRatio returns -(annualized excess return / tracking error).
// A zero tracking error defines the ratio as 0.
func NegativeInformationRatio(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		excess := excessReturns(in, w)
		te := formulas.StdDev(excess) * math.Sqrt(in.periods())
		if te < volatilityEpsilon {
			return 0
		}
		return -(formulas.Mean(excess) * in.periods()) / te
	}
}

// NegativeExcessReturn returns -(annualized mean excess return over the benchmark).
func NegativeExcessReturn(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		return -formulas.Mean(excessReturns(in, w)) * in.periods()
	}
}

// NegativeKelly returns -(exp(mean(log(1+r_p))) - 1)·P. Returns at or below -100%
// produce NaN or -Inf logs, which the solver rejects as non-finite.
func NegativeKelly(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		rp := portfolioReturns(in.Returns, w)
		if len(rp) == 0 {
			return 0
		}
		sum := 0.0
		for _, r := range rp {
			sum += math.Log1p(r)
		}
		geometric := math.Exp(sum/float64(len(rp))) - 1
		return -geometric * in.periods()
	}
}

// NegativeSortino returns -(E[r_p]·P - rf)/downside deviation. When the
// downside deviation cannot be estimated from fewer than two negative periods
// it is replaced by a small floor instead of zero.
func NegativeSortino(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		rp := portfolioReturns(in.Returns, w)
		expected := formulas.Mean(rp) * in.periods()

		downside := sortinoDownsideFloor
		if dev, ok := formulas.DownsideDeviation(rp); ok && dev > 0 {
			downside = dev * math.Sqrt(in.periods())
		}
		return -(expected - in.RiskFreeRate) / downside
	}
}

// NegativeOmega returns -(Σ gains above τ)/(Σ losses at or below τ) with τ = rf/P.
// No losses define the ratio as 0.
func NegativeOmega(in *ObjectiveInputs) ObjectiveFunc {
	threshold := in.RiskFreeRate / in.periods()
	return func(w []float64) float64 {
		var gains, losses float64
		for _, r := range portfolioReturns(in.Returns, w) {
			if r > threshold {
				gains += r - threshold
			} else {
				losses += threshold - r
			}
		}
		if losses <= 0 {
			return 0
		}
		return -gains / losses
	}
}

// DrawdownLoss returns the magnitude of the maximum drawdown, -min(cum/peak - 1),
// so that minimizing it prefers shallower drawdowns. Like CVaRLoss it is the
// negated signed measure.
func DrawdownLoss(in *ObjectiveInputs) ObjectiveFunc {
	return func(w []float64) float64 {
		return -formulas.MaxDrawdown(portfolioReturns(in.Returns, w))
	}
}
