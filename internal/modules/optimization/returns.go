package optimization

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/optimizer/pkg/formulas"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultPeriodsPerYear is the annualization factor for daily data.
const DefaultPeriodsPerYear = 252

// PriceMatrix holds aligned adjusted closes, one row per date and one column per asset.
// Callers forward-fill and drop incomplete rows before handing it to the engine.
type PriceMatrix struct {
	Dates  []time.Time
	Assets []string
	Prices [][]float64 // Prices[row][column]
}

// Rows returns the number of dates.
func (pm PriceMatrix) Rows() int { return len(pm.Prices) }

// Validate checks the shape invariants the engine relies on.
func (pm PriceMatrix) Validate() error {
	rows, cols := len(pm.Prices), len(pm.Assets)
	if cols == 0 {
		return &InputShapeError{Reason: "no assets", Rows: rows, Columns: cols}
	}
	if rows < 2 {
		return &InputShapeError{Reason: "at least 2 price rows are required", Rows: rows, Columns: cols}
	}
	if len(pm.Dates) != rows {
		return &InputShapeError{Reason: fmt.Sprintf("%d dates for %d price rows", len(pm.Dates), rows), Rows: rows, Columns: cols}
	}

	seen := make(map[string]struct{}, cols)
	for _, a := range pm.Assets {
		if _, dup := seen[a]; dup {
			return &InputShapeError{Reason: "duplicate asset column", Asset: a}
		}
		seen[a] = struct{}{}
	}

	for i, row := range pm.Prices {
		if len(row) != cols {
			return &InputShapeError{Reason: fmt.Sprintf("row %d has %d prices", i, len(row)), Rows: rows, Columns: cols}
		}
		for j, p := range row {
			if math.IsNaN(p) || math.IsInf(p, 0) {
				return &InputShapeError{Reason: fmt.Sprintf("non-finite price on row %d", i), Asset: pm.Assets[j]}
			}
		}
		if i > 0 && !pm.Dates[i].After(pm.Dates[i-1]) {
			return &InputShapeError{Reason: fmt.Sprintf("dates not strictly increasing at row %d", i), Rows: rows, Columns: cols}
		}
	}
	return nil
}

// Column returns the index of an asset, or -1.
func (pm PriceMatrix) Column(asset string) int {
	for j, a := range pm.Assets {
		if a == asset {
			return j
		}
	}
	return -1
}

// Select returns a copy restricted to the given assets, in the given order.
func (pm PriceMatrix) Select(assets []string) (PriceMatrix, error) {
	idx := make([]int, len(assets))
	for k, a := range assets {
		j := pm.Column(a)
		if j < 0 {
			return PriceMatrix{}, &InputShapeError{Reason: "asset not in price matrix", Asset: a}
		}
		idx[k] = j
	}

	out := PriceMatrix{
		Dates:  append([]time.Time(nil), pm.Dates...),
		Assets: append([]string(nil), assets...),
		Prices: make([][]float64, len(pm.Prices)),
	}
	for i, row := range pm.Prices {
		sel := make([]float64, len(idx))
		for k, j := range idx {
			sel[k] = row[j]
		}
		out.Prices[i] = sel
	}
	return out, nil
}

// ReturnSeries is the periodic simple-return matrix derived from a PriceMatrix.
// Dates[i] is the date of the later price of each pair.
type ReturnSeries struct {
	Dates   []time.Time
	Assets  []string
	Returns *mat.Dense // T x N
}

// Len returns the number of return periods.
func (r *ReturnSeries) Len() int {
	rows, _ := r.Returns.Dims()
	return rows
}

// Column copies one asset's return series.
func (r *ReturnSeries) Column(j int) []float64 {
	return mat.Col(nil, j, r.Returns)
}

// Portfolio returns the per-period portfolio returns R·w.
func (r *ReturnSeries) Portfolio(w []float64) []float64 {
	return portfolioReturns(r.Returns, w)
}

func portfolioReturns(returns *mat.Dense, w []float64) []float64 {
	rows, _ := returns.Dims()
	out := make([]float64, rows)
	dst := mat.NewVecDense(rows, out)
	dst.MulVec(returns, mat.NewVecDense(len(w), w))
	return out
}

// BuildReturns converts prices into simple percentage returns, dropping the
// undefined first row. A zero previous price yields a zero return.
func BuildReturns(prices PriceMatrix) (*ReturnSeries, error) {
	if err := prices.Validate(); err != nil {
		return nil, err
	}

	rows, cols := len(prices.Prices)-1, len(prices.Assets)
	data := make([]float64, rows*cols)
	column := make([]float64, len(prices.Prices))
	for j := 0; j < cols; j++ {
		for i, row := range prices.Prices {
			column[i] = row[j]
		}
		for i, r := range formulas.CalculateReturns(column) {
			data[i*cols+j] = r
		}
	}

	return &ReturnSeries{
		Dates:   append([]time.Time(nil), prices.Dates[1:]...),
		Assets:  append([]string(nil), prices.Assets...),
		Returns: mat.NewDense(rows, cols, data),
	}, nil
}

// CovarianceEstimator selects how the covariance matrix is estimated.
type CovarianceEstimator string

const (
	CovarianceSample     CovarianceEstimator = "sample"
	CovarianceLedoitWolf CovarianceEstimator = "ledoit_wolf"
)

// Moments are the annualized mean-return vector and covariance matrix.
type Moments struct {
	Mean           []float64
	Cov            *mat.SymDense
	PeriodsPerYear int
}

// Volatilities returns sqrt of the covariance diagonal.
func (m *Moments) Volatilities() []float64 {
	return covVolatilities(m.Cov)
}

// EstimateMoments annualizes the column means and covariance of the returns.
// Both are scaled linearly by periodsPerYear. Fewer than two periods give a
// zero covariance; constant columns give zero variance.
func EstimateMoments(r *ReturnSeries, periodsPerYear int, estimator CovarianceEstimator) *Moments {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	rows, cols := r.Returns.Dims()
	p := float64(periodsPerYear)

	mean := make([]float64, cols)
	for j := 0; j < cols; j++ {
		mean[j] = formulas.Mean(r.Column(j)) * p
	}

	cov := mat.NewSymDense(cols, nil)
	if rows >= 2 {
		var sample mat.SymDense
		stat.CovarianceMatrix(&sample, r.Returns, nil)
		if estimator == CovarianceLedoitWolf && cols > 1 {
			shrinkLedoitWolf(&sample, r.Returns)
		}
		cov.ScaleSym(p, &sample)
	}

	return &Moments{Mean: mean, Cov: cov, PeriodsPerYear: periodsPerYear}
}

// shrinkLedoitWolf shrinks the sample covariance in place towards a
// constant-correlation target (Ledoit & Wolf, 2004). The shrinkage intensity
// is estimated from the returns and clamped into [0, 1].
func shrinkLedoitWolf(sample *mat.SymDense, returns *mat.Dense) {
	t, n := returns.Dims()
	tf := float64(t)

	means := make([]float64, n)
	for j := 0; j < n; j++ {
		means[j] = formulas.Mean(mat.Col(nil, j, returns))
	}
	x := mat.NewDense(t, n, nil)
	for i := 0; i < t; i++ {
		for j := 0; j < n; j++ {
			x.Set(i, j, returns.At(i, j)-means[j])
		}
	}

	// Moments with a 1/T denominator, as in the estimator's derivation
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for k := 0; k < t; k++ {
				sum += x.At(k, i) * x.At(k, j)
			}
			s.SetSym(i, j, sum/tf)
		}
	}

	sd := make([]float64, n)
	for i := 0; i < n; i++ {
		sd[i] = math.Sqrt(math.Max(s.At(i, i), 0))
	}

	rbar, pairs := 0.0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sd[i] > 0 && sd[j] > 0 {
				rbar += s.At(i, j) / (sd[i] * sd[j])
			}
			pairs++
		}
	}
	if pairs > 0 {
		rbar /= float64(pairs)
	}

	target := func(i, j int) float64 {
		if i == j {
			return s.At(i, i)
		}
		return rbar * sd[i] * sd[j]
	}

	var pi, rho, gamma float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sij := s.At(i, j)
			var piij float64
			for k := 0; k < t; k++ {
				d := x.At(k, i)*x.At(k, j) - sij
				piij += d * d
			}
			piij /= tf
			pi += piij

			if i == j {
				rho += piij
			} else if sd[i] > 0 && sd[j] > 0 {
				var thetaII, thetaJJ float64
				for k := 0; k < t; k++ {
					cross := x.At(k, i)*x.At(k, j) - sij
					thetaII += (x.At(k, i)*x.At(k, i) - s.At(i, i)) * cross
					thetaJJ += (x.At(k, j)*x.At(k, j) - s.At(j, j)) * cross
				}
				thetaII /= tf
				thetaJJ /= tf
				rho += rbar / 2 * (sd[j]/sd[i]*thetaII + sd[i]/sd[j]*thetaJJ)
			}

			d := target(i, j) - sij
			gamma += d * d
		}
	}

	delta := 0.0
	if gamma > 0 {
		delta = math.Max(0, math.Min(1, (pi-rho)/gamma/tf))
	}

	// Apply to the caller's N-1 sample estimate so the diagonal is unchanged
	// and only the correlation structure is shrunk.
	scale := tf / (tf - 1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			shrunk := delta*target(i, j)*scale + (1-delta)*sample.At(i, j)
			sample.SetSym(i, j, shrunk)
		}
	}
}

// CorrelationMatrix returns the Pearson correlation of the return columns.
// Pairs involving a zero-variance column are 0; the diagonal is 1.
func CorrelationMatrix(r *ReturnSeries) [][]float64 {
	_, n := r.Returns.Dims()
	cols := make([][]float64, n)
	for j := 0; j < n; j++ {
		cols[j] = r.Column(j)
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := formulas.Correlation(cols[i], cols[j])
			out[i][j], out[j][i] = c, c
		}
	}
	return out
}
