package optimization

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/optimizer/pkg/formulas"
)

const rollingVolatilityWindow = 21

// Point is one dated value of a series.
type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// StressResult is the compounded return over a named historical window.
type StressResult struct {
	Name   string  `json:"name"`
	Start  string  `json:"start"`
	End    string  `json:"end"`
	Return float64 `json:"return"`
}

// MonthlyHeatmap is a year x month grid of compounded monthly returns.
// Years are descending; Returns[i][m] is nil where the month has no data.
type MonthlyHeatmap struct {
	Years   []int        `json:"years"`
	Months  []string     `json:"months"`
	Returns [][]*float64 `json:"z"`
}

// HealthWeights weights the four health sub-scores. They are normalised to sum to 100.
type HealthWeights struct {
	Sharpe          float64 `json:"sharpe"`
	Diversification float64 `json:"diversification"`
	Concentration   float64 `json:"concentration"`
	Drawdown        float64 `json:"drawdown"`
}

// DefaultHealthWeights returns the 40/30/10/20 blend.
func DefaultHealthWeights() HealthWeights {
	return HealthWeights{Sharpe: 40, Diversification: 30, Concentration: 10, Drawdown: 20}
}

// Diversification holds concentration and diversification metrics.
type Diversification struct {
	HHI                   float64            `json:"hhi"`
	DiversificationRatio  float64            `json:"diversification_ratio"`
	EffectiveNumberOfBets float64            `json:"effective_number_of_bets"`
	HealthScore           float64            `json:"health_score"`
	SubScores             map[string]float64 `json:"sub_scores"`
}

// AnalysisPeriod is the date span and length of the return series.
type AnalysisPeriod struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Periods int    `json:"periods"`
}

// OptimizationResult is the weight vector plus everything derived from it.
// All returns and ratios are decimals.
type OptimizationResult struct {
	Objective           ObjectiveKind      `json:"objective"`
	Assets              []string           `json:"assets"`
	Weights             []float64          `json:"weights"`
	WeightMap           map[string]float64 `json:"weight_map"`
	Return              float64            `json:"return"`
	Volatility          float64            `json:"volatility"`
	Sharpe              float64            `json:"sharpe_ratio"`
	Sortino             float64            `json:"sortino_ratio"`
	VaR95               float64            `json:"var_95"`
	CVaR95              float64            `json:"cvar_95"`
	MaxDrawdown         float64            `json:"max_drawdown"`
	MaxDrawdownDuration int                `json:"max_drawdown_duration"`
	EquityCurve         []Point            `json:"equity_curve"`
	DrawdownCurve       []Point            `json:"drawdown_curve"`
	RollingVolatility   []Point            `json:"rolling_volatility,omitempty"`
	MonthlyHeatmap      MonthlyHeatmap     `json:"monthly_heatmap"`
	RollingReturns      map[string][]Point `json:"rolling_returns"`
	StressTests         []StressResult     `json:"stress_tests"`
	Diversification     Diversification    `json:"diversification"`
	RiskContributions   map[string]float64 `json:"risk_contributions"`
	Robust              *RobustInfo        `json:"robust,omitempty"`
	Period              AnalysisPeriod     `json:"analysis_period"`
}

// StressWindow is an inclusive named date range.
type StressWindow struct {
	Name  string
	Start time.Time
	End   time.Time
}

// StressWindows are the historical episodes every result is tested against.
var StressWindows = []StressWindow{
	{Name: "Covid-19", Start: day(2020, 2, 19), End: day(2020, 3, 23)},
	{Name: "2022 Bear", Start: day(2022, 1, 3), End: day(2022, 10, 12)},
	{Name: "2018 Correction", Start: day(2018, 9, 20), End: day(2018, 12, 24)},
	{Name: "2008 Crisis", Start: day(2007, 10, 9), End: day(2009, 3, 9)},
}

var rollingWindows = []struct {
	name   string
	months int
}{
	{"1 Year", 12},
	{"3 Years", 36},
}

var monthNames = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

const dateLayout = "2006-01-02"

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PortfolioSeries is the per-period return series of one weight vector,
// computed once and shared by every statistic derived from it.
type PortfolioSeries struct {
	Dates   []time.Time
	Returns []float64
}

// NewPortfolioSeries computes R·w.
func NewPortfolioSeries(r *ReturnSeries, w []float64) *PortfolioSeries {
	return &PortfolioSeries{Dates: r.Dates, Returns: r.Portfolio(w)}
}

type monthlyReturn struct {
	year  int
	month time.Month
	end   time.Time
	ret   float64
}

// monthly compounds the series into calendar months, in date order.
func (ps *PortfolioSeries) monthly() []monthlyReturn {
	var out []monthlyReturn
	for i, d := range ps.Dates {
		y, m, _ := d.Date()
		if n := len(out); n > 0 && out[n-1].year == y && out[n-1].month == m {
			out[n-1].ret = (1+out[n-1].ret)*(1+ps.Returns[i]) - 1
			continue
		}
		out = append(out, monthlyReturn{
			year:  y,
			month: m,
			end:   time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC),
			ret:   ps.Returns[i],
		})
	}
	return out
}

// Analyzer derives OptimizationResult values from a weight vector.
type Analyzer struct {
	returns        *ReturnSeries
	moments        *Moments
	riskFreeRate   float64
	periodsPerYear int
	healthWeights  HealthWeights
}

// NewAnalyzer creates an analyzer over a return series and its moments.
func NewAnalyzer(returns *ReturnSeries, moments *Moments, riskFreeRate float64, hw *HealthWeights) *Analyzer {
	weights := DefaultHealthWeights()
	if hw != nil {
		weights = *hw
	}
	return &Analyzer{
		returns:        returns,
		moments:        moments,
		riskFreeRate:   riskFreeRate,
		periodsPerYear: moments.PeriodsPerYear,
		healthWeights:  weights,
	}
}

// Analyze builds the full result for w.
func (a *Analyzer) Analyze(kind ObjectiveKind, w []float64) *OptimizationResult {
	ps := NewPortfolioSeries(a.returns, w)
	assets := a.returns.Assets
	p := float64(a.periodsPerYear)

	res := &OptimizationResult{
		Objective: kind,
		Assets:    append([]string(nil), assets...),
		Weights:   append([]float64(nil), w...),
		WeightMap: make(map[string]float64, len(w)),
	}
	for i, asset := range assets {
		res.WeightMap[asset] = w[i]
	}

	res.Return = PortfolioReturn(a.moments.Mean, w)
	res.Volatility = PortfolioVolatility(a.moments.Cov, w)
	if res.Volatility > volatilityEpsilon {
		res.Sharpe = (res.Return - a.riskFreeRate) / res.Volatility
	}

	if dev, ok := formulas.DownsideDeviation(ps.Returns); ok && dev > 0 {
		res.Sortino = (formulas.Mean(ps.Returns)*p - a.riskFreeRate) / (dev * math.Sqrt(p))
	}

	res.VaR95 = formulas.HistoricalVaR(ps.Returns, tailConfidence)
	res.CVaR95 = formulas.HistoricalCVaR(ps.Returns, tailConfidence)

	equity, drawdown := formulas.Drawdowns(ps.Returns)
	res.EquityCurve = dated(ps.Dates, equity)
	res.DrawdownCurve = dated(ps.Dates, drawdown)
	for _, d := range drawdown {
		res.MaxDrawdown = math.Min(res.MaxDrawdown, d)
	}
	res.MaxDrawdownDuration = formulas.LongestUnderwater(drawdown)

	if vol := formulas.RollingVolatility(ps.Returns, rollingVolatilityWindow, a.periodsPerYear); vol != nil {
		res.RollingVolatility = dated(ps.Dates[rollingVolatilityWindow-1:], vol)
	}

	monthly := ps.monthly()
	res.MonthlyHeatmap = monthlyHeatmap(monthly)
	res.RollingReturns = rollingReturns(monthly)
	res.StressTests = stressTests(ps)
	res.Diversification = a.diversification(w, res.Sharpe, res.MaxDrawdownDuration)

	res.RiskContributions = make(map[string]float64, len(w))
	if rc, vol, ok := RiskContributions(a.moments.Cov, w); ok {
		for i, asset := range assets {
			res.RiskContributions[asset] = rc[i] / vol
		}
	}

	if n := len(ps.Dates); n > 0 {
		res.Period = AnalysisPeriod{
			Start:   ps.Dates[0].Format(dateLayout),
			End:     ps.Dates[n-1].Format(dateLayout),
			Periods: n,
		}
	}
	return res
}

func dated(dates []time.Time, values []float64) []Point {
	out := make([]Point, len(values))
	for i, v := range values {
		out[i] = Point{Date: dates[i].Format(dateLayout), Value: v}
	}
	return out
}

// HHI is Σw².
func HHI(w []float64) float64 {
	s := 0.0
	for _, x := range w {
		s += x * x
	}
	return s
}

// DiversificationRatio is Σw_iσ_i / σ_p, or 1 for a riskless portfolio.
func DiversificationRatio(m *Moments, w []float64) float64 {
	vol := PortfolioVolatility(m.Cov, w)
	if vol < volatilityEpsilon {
		return 1
	}
	return PortfolioReturn(m.Volatilities(), w) / vol
}

func (a *Analyzer) diversification(w []float64, sharpe float64, duration int) Diversification {
	hhi := HHI(w)
	dr := DiversificationRatio(a.moments, w)

	d := Diversification{
		HHI:                  hhi,
		DiversificationRatio: dr,
	}
	if hhi > 0 {
		d.EffectiveNumberOfBets = 1 / hhi
	}

	d.SubScores = map[string]float64{
		"sharpe":          clampScore(sharpe * 50),
		"diversification": clampScore((dr - 1) * 100),
		"concentration":   clampScore((1 - hhi) * 100),
		"drawdown":        clampScore(100 - float64(duration)/float64(a.periodsPerYear)*100),
	}

	hw := a.healthWeights
	total := hw.Sharpe + hw.Diversification + hw.Concentration + hw.Drawdown
	if total <= 0 || hw.Sharpe < 0 || hw.Diversification < 0 || hw.Concentration < 0 || hw.Drawdown < 0 {
		hw = DefaultHealthWeights()
		total = 100
	}
	d.HealthScore = (d.SubScores["sharpe"]*hw.Sharpe +
		d.SubScores["diversification"]*hw.Diversification +
		d.SubScores["concentration"]*hw.Concentration +
		d.SubScores["drawdown"]*hw.Drawdown) / total
	return d
}

func clampScore(x float64) float64 {
	return math.Min(100, math.Max(0, x))
}

func stressTests(ps *PortfolioSeries) []StressResult {
	var out []StressResult
	for _, sw := range StressWindows {
		var window []float64
		for i, d := range ps.Dates {
			if !d.Before(sw.Start) && !d.After(sw.End) {
				window = append(window, ps.Returns[i])
			}
		}
		if len(window) == 0 {
			continue
		}
		out = append(out, StressResult{
			Name:   sw.Name,
			Start:  sw.Start.Format(dateLayout),
			End:    sw.End.Format(dateLayout),
			Return: formulas.CompoundReturn(window),
		})
	}
	return out
}

func monthlyHeatmap(monthly []monthlyReturn) MonthlyHeatmap {
	byYear := make(map[int][]*float64)
	for _, m := range monthly {
		row, ok := byYear[m.year]
		if !ok {
			row = make([]*float64, 12)
			byYear[m.year] = row
		}
		v := m.ret
		row[m.month-1] = &v
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	hm := MonthlyHeatmap{Years: years, Months: monthNames, Returns: make([][]*float64, len(years))}
	for i, y := range years {
		hm.Returns[i] = byYear[y]
	}
	return hm
}

// rollingReturns annualises trailing 12 and 36 month compounded returns.
// A window is omitted when there are fewer months than its length.
func rollingReturns(monthly []monthlyReturn) map[string][]Point {
	out := make(map[string][]Point)
	for _, rw := range rollingWindows {
		if len(monthly) < rw.months {
			continue
		}
		points := make([]Point, 0, len(monthly)-rw.months+1)
		for end := rw.months; end <= len(monthly); end++ {
			growth := 1.0
			for _, m := range monthly[end-rw.months : end] {
				growth *= 1 + m.ret
			}
			points = append(points, Point{
				Date:  monthly[end-1].end.Format(dateLayout),
				Value: formulas.AnnualizeCompound(growth-1, rw.months, 12),
			})
		}
		out[rw.name] = points
	}
	return out
}
