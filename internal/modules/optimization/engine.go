package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRiskFreeRate is used when a request does not set one.
const DefaultRiskFreeRate = 0.04

// Observer is notified after every optimization.
type Observer interface {
	ObserveOptimization(kind ObjectiveKind, elapsed time.Duration, err error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Solver         SolverSettings
	RobustWorkers  int
	RiskFreeRate   float64
	PeriodsPerYear int
}

// Request is one optimization call.
type Request struct {
	Prices PriceMatrix
	// Assets restricts the optimized columns; empty means every column.
	// The benchmark may be a column of Prices without being optimized.
	Assets              []string
	Objective           ObjectiveKind
	RiskFreeRate        *float64
	PeriodsPerYear      int
	Bounds              AssetBounds
	Groups              *GroupConstraintSpec
	Targets             Targets
	Benchmark           string
	Robust              bool
	RobustResamples     int
	PerturbationScale   float64
	Seed                uint64
	CovarianceEstimator CovarianceEstimator
	HealthWeights       *HealthWeights
}

// Engine runs optimizations. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	constraints    *ConstraintBuilder
	solver         *Solver
	resampler      *Resampler
	observer       Observer
	riskFreeRate   float64
	periodsPerYear int
	log            zerolog.Logger
}

// NewEngine creates a new engine.
func NewEngine(cfg EngineConfig, log zerolog.Logger) *Engine {
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = DefaultPeriodsPerYear
	}
	solver := NewSolver(cfg.Solver, log)
	return &Engine{
		constraints:    NewConstraintBuilder(log),
		solver:         solver,
		resampler:      NewResampler(solver, cfg.RobustWorkers, log),
		riskFreeRate:   cfg.RiskFreeRate,
		periodsPerYear: cfg.PeriodsPerYear,
		log:            log.With().Str("component", "engine").Logger(),
	}
}

// SetObserver registers an observer for optimization outcomes.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// session is the data prepared once per request.
type session struct {
	assets  []string
	returns *ReturnSeries
	moments *Moments
	inputs  *ObjectiveInputs
}

func (e *Engine) prepare(prices PriceMatrix, assets []string, benchmark string, rf *float64, periods int, est CovarianceEstimator) (*session, error) {
	if err := prices.Validate(); err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		assets = prices.Assets
	}

	sub, err := prices.Select(assets)
	if err != nil {
		return nil, err
	}
	returns, err := BuildReturns(sub)
	if err != nil {
		return nil, err
	}

	if periods <= 0 {
		periods = e.periodsPerYear
	}
	switch est {
	case "", CovarianceSample, CovarianceLedoitWolf:
	default:
		return nil, &InvalidRequestError{Field: "covariance_estimator", Reason: fmt.Sprintf("unknown estimator %q", est)}
	}
	moments := EstimateMoments(returns, periods, est)

	in := &ObjectiveInputs{
		Mean:           moments.Mean,
		Cov:            moments.Cov,
		Returns:        returns.Returns,
		RiskFreeRate:   e.riskFreeRate,
		PeriodsPerYear: periods,
	}
	if rf != nil {
		in.RiskFreeRate = *rf
	}

	if benchmark != "" {
		col, err := prices.Select([]string{benchmark})
		if err != nil {
			return nil, &InputShapeError{Reason: "benchmark not in price matrix", Asset: benchmark}
		}
		br, err := BuildReturns(col)
		if err != nil {
			return nil, err
		}
		in.Benchmark = br.Column(0)
	}

	return &session{
		assets:  append([]string(nil), assets...),
		returns: returns,
		moments: moments,
		inputs:  in,
	}, nil
}

func validateRequest(req *Request) (ObjectiveKind, error) {
	kind, err := ParseObjectiveKind(string(req.Objective))
	if err != nil {
		return "", err
	}
	if kind.NeedsBenchmark() && req.Benchmark == "" {
		return "", &InvalidRequestError{Field: "benchmark", Reason: fmt.Sprintf("required by %s", kind)}
	}
	for _, name := range []string{TargetReturn, TargetVolatility, TargetCVaR, TargetTrackingError} {
		if v := req.Targets.value(name); v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return "", &InvalidRequestError{Field: "target_" + name, Reason: "must be finite"}
		}
	}
	if req.RobustResamples < 0 || req.RobustResamples > MaxResamples {
		return "", &InvalidRequestError{
			Field:  "robust_resamples",
			Reason: fmt.Sprintf("must be between 1 and %d", MaxResamples),
		}
	}
	if req.PerturbationScale < 0 || req.PerturbationScale > 1 {
		return "", &InvalidRequestError{Field: "perturbation_scale", Reason: "must be between 0 and 1"}
	}
	return kind, nil
}

// Optimize runs one optimization and returns its weights and analytics.
// Failures are *InputShapeError, *InvalidRequestError or
// *SolverNonConvergenceError, or ctx.Err() on cancellation.
func (e *Engine) Optimize(ctx context.Context, req Request) (*OptimizationResult, error) {
	kind, err := validateRequest(&req)
	if err != nil {
		return nil, err
	}
	if req.Robust && !kind.IsRobust() {
		if v, ok := kind.RobustVariant(); ok {
			kind = v
		} else {
			e.log.Warn().Str("method", string(kind)).Msg("Method has no robust variant - running standard solve")
		}
	}

	s, err := e.prepare(req.Prices, req.Assets, req.Benchmark, req.RiskFreeRate, req.PeriodsPerYear, req.CovarianceEstimator)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	weights, info, err := e.solve(ctx, kind, s, &req)
	elapsed := time.Since(start)
	if e.observer != nil {
		e.observer.ObserveOptimization(kind, elapsed, err)
	}
	if err != nil {
		var nc *SolverNonConvergenceError
		if errors.As(err, &nc) {
			nc.Objective = kind
			nc.Assets = len(s.assets)
			if t := kind.Target(); t != "" {
				nc.Target = t
				nc.TargetValue = req.Targets.value(t)
			}
		}
		e.log.Warn().
			Err(err).
			Str("method", string(kind)).
			Int("assets", len(s.assets)).
			Dur("elapsed", elapsed).
			Msg("Optimization failed")
		return nil, err
	}

	result := NewAnalyzer(s.returns, s.moments, s.inputs.RiskFreeRate, req.HealthWeights).Analyze(kind, weights)
	result.Robust = info

	e.log.Info().
		Str("method", string(kind)).
		Int("assets", len(s.assets)).
		Int("periods", s.returns.Len()).
		Float64("return", result.Return).
		Float64("volatility", result.Volatility).
		Dur("elapsed", elapsed).
		Msg("Optimization complete")

	return result, nil
}

func (e *Engine) solve(ctx context.Context, kind ObjectiveKind, s *session, req *Request) ([]float64, *RobustInfo, error) {
	if kind == EqualWeight {
		return EqualWeights(len(s.assets)), nil, nil
	}

	cs := e.constraints.Build(s.assets, req.Bounds, req.Groups)

	if kind.IsRobust() {
		return e.resampler.Run(ctx, kind.Base(), s.inputs, cs, req.Targets, ResampleSettings{
			Resamples: req.RobustResamples,
			Scale:     req.PerturbationScale,
			Seed:      req.Seed,
		})
	}

	p, err := problemFor(kind, s.inputs, cs, req.Targets, s.moments.Volatilities())
	if err != nil {
		return nil, nil, err
	}
	sol, err := e.solver.Solve(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return sol.Weights, nil, nil
}

// EvaluateOptions configures Evaluate.
type EvaluateOptions struct {
	RiskFreeRate        *float64
	PeriodsPerYear      int
	CovarianceEstimator CovarianceEstimator
	HealthWeights       *HealthWeights
}

// Evaluate computes the analytics of caller-supplied weights. Weights are
// normalised to sum to 1; assets are reported in sorted order.
func (e *Engine) Evaluate(ctx context.Context, prices PriceMatrix, weights map[string]float64, opts EvaluateOptions) (*OptimizationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assets := make([]string, 0, len(weights))
	total := 0.0
	for asset, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, &InvalidRequestError{Field: "weights", Reason: fmt.Sprintf("weight for %s must be a finite non-negative number", asset)}
		}
		assets = append(assets, asset)
		total += w
	}
	if total <= 0 {
		return nil, &InvalidRequestError{Field: "weights", Reason: "weights must sum to more than zero"}
	}
	sort.Strings(assets)

	s, err := e.prepare(prices, assets, "", opts.RiskFreeRate, opts.PeriodsPerYear, opts.CovarianceEstimator)
	if err != nil {
		return nil, err
	}

	w := make([]float64, len(assets))
	for i, asset := range assets {
		w[i] = weights[asset] / total
	}
	return NewAnalyzer(s.returns, s.moments, s.inputs.RiskFreeRate, opts.HealthWeights).Analyze("", w), nil
}

// Correlations returns the return correlation matrix of the given assets.
func (e *Engine) Correlations(prices PriceMatrix, assets []string) ([][]float64, error) {
	sub, err := prices.Select(assets)
	if err != nil {
		return nil, err
	}
	r, err := BuildReturns(sub)
	if err != nil {
		return nil, err
	}
	return CorrelationMatrix(r), nil
}
