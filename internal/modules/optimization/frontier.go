package optimization

import (
	"context"
	"errors"
	"math/rand/v2"
)

const (
	DefaultFrontierPoints = 20
	MaxFrontierPoints     = 100
	DefaultRandomPoints   = 200
)

// FrontierPoint is one portfolio in return/volatility space.
type FrontierPoint struct {
	Return     float64            `json:"return"`
	Volatility float64            `json:"volatility"`
	Sharpe     float64            `json:"sharpe"`
	Weights    map[string]float64 `json:"weights,omitempty"`
}

// FrontierRequest describes an efficient frontier sweep.
type FrontierRequest struct {
	Prices              PriceMatrix
	Assets              []string
	Bounds              AssetBounds
	Groups              *GroupConstraintSpec
	Points              int
	RiskFreeRate        *float64
	PeriodsPerYear      int
	CovarianceEstimator CovarianceEstimator
}

// EfficientFrontier solves min-volatility portfolios for evenly spaced target
// returns between the minimum-volatility portfolio's return and the highest
// return reachable under the constraints. Targets the solver cannot meet are
// skipped.
func (e *Engine) EfficientFrontier(ctx context.Context, req FrontierRequest) ([]FrontierPoint, error) {
	points := req.Points
	if points <= 0 {
		points = DefaultFrontierPoints
	}
	if points > MaxFrontierPoints {
		return nil, &InvalidRequestError{Field: "points", Reason: "too many frontier points"}
	}

	s, err := e.prepare(req.Prices, req.Assets, "", req.RiskFreeRate, req.PeriodsPerYear, req.CovarianceEstimator)
	if err != nil {
		return nil, err
	}
	cs := e.constraints.Build(s.assets, req.Bounds, req.Groups)
	vols := s.moments.Volatilities()

	minVol, err := e.solveKind(ctx, MinVolatility, s, cs, Targets{}, vols)
	if err != nil {
		return nil, err
	}
	maxRet, err := e.solveKind(ctx, MaxReturnTargetVol, s, cs, Targets{Volatility: ptr(1e6)}, vols)
	if err != nil {
		return nil, err
	}

	lo := PortfolioReturn(s.moments.Mean, minVol)
	hi := PortfolioReturn(s.moments.Mean, maxRet)
	if hi < lo || points == 1 {
		return []FrontierPoint{e.point(s, minVol)}, nil
	}

	out := make([]FrontierPoint, 0, points)
	for i := 0; i < points; i++ {
		target := lo + (hi-lo)*float64(i)/float64(points-1)
		var w []float64
		switch i {
		case 0:
			w = minVol
		case points - 1:
			w = maxRet
		default:
			w, err = e.solveKind(ctx, MinVolTargetReturn, s, cs, Targets{Return: ptr(target)}, vols)
			if err != nil {
				var nc *SolverNonConvergenceError
				if errors.As(err, &nc) {
					e.log.Debug().Float64("target", target).Msg("Frontier point infeasible - skipping")
					continue
				}
				return nil, err
			}
		}
		out = append(out, e.point(s, w))
	}
	return out, nil
}

func (e *Engine) solveKind(ctx context.Context, kind ObjectiveKind, s *session, cs ConstraintSet, targets Targets, vols []float64) ([]float64, error) {
	p, err := problemFor(kind, s.inputs, cs, targets, vols)
	if err != nil {
		return nil, err
	}
	sol, err := e.solver.Solve(ctx, p)
	if err != nil {
		return nil, err
	}
	return sol.Weights, nil
}

func (e *Engine) point(s *session, w []float64) FrontierPoint {
	fp := FrontierPoint{
		Return:     PortfolioReturn(s.moments.Mean, w),
		Volatility: PortfolioVolatility(s.moments.Cov, w),
		Weights:    make(map[string]float64, len(w)),
	}
	if fp.Volatility > volatilityEpsilon {
		fp.Sharpe = (fp.Return - s.inputs.RiskFreeRate) / fp.Volatility
	}
	for i, asset := range s.assets {
		fp.Weights[asset] = w[i]
	}
	return fp
}

// RandomPortfolios draws n long-only portfolios with uniform random weights
// normalised to sum to 1, for plotting against the frontier.
func (e *Engine) RandomPortfolios(prices PriceMatrix, assets []string, n int, seed uint64, rf *float64, periods int) ([]FrontierPoint, error) {
	if n <= 0 {
		n = DefaultRandomPoints
	}
	s, err := e.prepare(prices, assets, "", rf, periods, CovarianceSample)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	out := make([]FrontierPoint, n)
	w := make([]float64, len(s.assets))
	for k := range out {
		total := 0.0
		for i := range w {
			w[i] = rng.Float64()
			total += w[i]
		}
		for i := range w {
			w[i] /= total
		}
		p := e.point(s, w)
		p.Weights = nil
		out[k] = p
	}
	return out, nil
}

func ptr(v float64) *float64 { return &v }
