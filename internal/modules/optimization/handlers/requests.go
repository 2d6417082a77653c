package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/optimizer/internal/modules/optimization"
	"github.com/aristath/optimizer/internal/modules/prices"
)

// Defaults applied to optimize requests. Targets are percentages.
const (
	DefaultBenchmark           = "SPY.US"
	DefaultStartDate           = "2015-01-01"
	DefaultTargetReturnPct     = 10.0
	DefaultTargetVolatilityPct = 15.0
	DefaultTargetCVaRPct       = -2.0
	DefaultTargetTEPct         = 5.0
	RandomPortfolioCount       = optimization.DefaultRandomPoints
)

// BoundInput is a decimal weight range.
type BoundInput struct {
	Min *float64 `json:"min" validate:"omitempty,gte=0,lte=1"`
	Max *float64 `json:"max" validate:"omitempty,gte=0,lte=1"`
}

// GroupBoundInput is a percentage weight range for a group.
type GroupBoundInput struct {
	Min *float64 `json:"min" validate:"omitempty,gte=0,lte=100"`
	Max *float64 `json:"max" validate:"omitempty,gte=0,lte=100"`
}

// ConstraintsInput holds per-asset bounds.
type ConstraintsInput struct {
	Assets map[string]BoundInput `json:"assets" validate:"dive"`
}

// OptimizeRequest is the body of POST /api/optimize.
type OptimizeRequest struct {
	Tickers                []string                    `json:"tickers" validate:"required,min=1,max=100,dive,required"`
	OptimizationGoal       string                      `json:"optimization_goal"`
	Constraints            ConstraintsInput            `json:"constraints"`
	TargetReturn           *float64                    `json:"target_return" validate:"omitempty,gte=-100,lte=1000"`
	TargetVolatility       *float64                    `json:"target_volatility" validate:"omitempty,gt=0,lte=1000"`
	TargetCVaR             *float64                    `json:"target_cvar" validate:"omitempty,gte=-100,lte=0"`
	TargetTrackingError    *float64                    `json:"target_tracking_error" validate:"omitempty,gt=0,lte=1000"`
	Benchmark              *string                     `json:"benchmark"`
	UseGroupConstraints    bool                        `json:"use_group_constraints"`
	GroupConstraints       map[string]GroupBoundInput  `json:"group_constraints" validate:"dive"`
	Robust                 bool                        `json:"robust"`
	RobustResamples        int                         `json:"robust_resamples" validate:"gte=0,lte=500"`
	PerturbationScale      float64                     `json:"perturbation_scale" validate:"gte=0,lte=1"`
	Seed                   uint64                      `json:"seed"`
	RiskFreeRate           *float64                    `json:"risk_free_rate" validate:"omitempty,gte=-1,lte=1"`
	CovarianceEstimator    string                      `json:"covariance_estimator" validate:"omitempty,oneof=sample ledoit_wolf"`
	StartDate              string                      `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate                string                      `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	UserWeights            map[string]float64          `json:"user_weights"`
	UserBenchmarkID        string                      `json:"user_benchmark_id"`
	IncludeDiversification *bool                       `json:"include_diversification"`
	HealthScoreWeights     *optimization.HealthWeights `json:"health_score_weights"`
}

// StatsRequest is the body of POST /api/portfolio/stats.
type StatsRequest struct {
	Weights            map[string]float64          `json:"weights" validate:"required,min=1"`
	RiskFreeRate       *float64                    `json:"risk_free_rate" validate:"omitempty,gte=-1,lte=1"`
	StartDate          string                      `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate            string                      `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	HealthScoreWeights *optimization.HealthWeights `json:"health_score_weights"`
}

// FrontierRequest is the body of POST /api/frontier.
type FrontierRequest struct {
	Tickers             []string                   `json:"tickers" validate:"required,min=2,max=100,dive,required"`
	Points              int                        `json:"points" validate:"gte=0,lte=100"`
	Constraints         ConstraintsInput           `json:"constraints"`
	UseGroupConstraints bool                       `json:"use_group_constraints"`
	GroupConstraints    map[string]GroupBoundInput `json:"group_constraints" validate:"dive"`
	RiskFreeRate        *float64                   `json:"risk_free_rate" validate:"omitempty,gte=-1,lte=1"`
	CovarianceEstimator string                     `json:"covariance_estimator" validate:"omitempty,oneof=sample ledoit_wolf"`
	StartDate           string                     `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate             string                     `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// dateRange parses the optional start and end dates. An empty start uses def.
func dateRange(start, end, def string) (time.Time, time.Time, error) {
	if start == "" {
		start = def
	}
	var from, to time.Time
	var err error
	if start != "" {
		if from, err = time.Parse(prices.DateLayout, start); err != nil {
			return from, to, &optimization.InvalidRequestError{Field: "start_date", Reason: "expected YYYY-MM-DD"}
		}
	}
	if end != "" {
		if to, err = time.Parse(prices.DateLayout, end); err != nil {
			return from, to, &optimization.InvalidRequestError{Field: "end_date", Reason: "expected YYYY-MM-DD"}
		}
		if !from.IsZero() && to.Before(from) {
			return from, to, &optimization.InvalidRequestError{Field: "end_date", Reason: "before start_date"}
		}
	}
	return from, to, nil
}

// assetBounds converts decimal bound inputs keyed by ticker.
func assetBounds(in map[string]BoundInput) optimization.AssetBounds {
	if len(in) == 0 {
		return nil
	}
	out := make(optimization.AssetBounds, len(in))
	for ticker, b := range in {
		bound := optimization.Bound{Min: 0, Max: 1}
		if b.Min != nil {
			bound.Min = *b.Min
		}
		if b.Max != nil {
			bound.Max = *b.Max
		}
		out[strings.ToUpper(strings.TrimSpace(ticker))] = bound
	}
	return out
}

// groupBounds converts percentage group bounds to decimals.
func groupBounds(in map[string]GroupBoundInput) map[string]optimization.Bound {
	out := make(map[string]optimization.Bound, len(in))
	for group, b := range in {
		bound := optimization.Bound{Min: 0, Max: 1}
		if b.Min != nil {
			bound.Min = *b.Min / 100
		}
		if b.Max != nil {
			bound.Max = *b.Max / 100
		}
		out[group] = bound
	}
	return out
}

// targets converts percentage targets to decimals, applying defaults.
func (req *OptimizeRequest) targets() optimization.Targets {
	pct := func(v *float64, def float64) *float64 {
		x := def
		if v != nil {
			x = *v
		}
		x /= 100
		return &x
	}
	return optimization.Targets{
		Return:        pct(req.TargetReturn, DefaultTargetReturnPct),
		Volatility:    pct(req.TargetVolatility, DefaultTargetVolatilityPct),
		CVaR:          pct(req.TargetCVaR, DefaultTargetCVaRPct),
		TrackingError: pct(req.TargetTrackingError, DefaultTargetTEPct),
	}
}

func (req *OptimizeRequest) benchmark() string {
	if req.Benchmark == nil {
		return DefaultBenchmark
	}
	return strings.ToUpper(strings.TrimSpace(*req.Benchmark))
}

func (req *OptimizeRequest) objective() string {
	if strings.TrimSpace(req.OptimizationGoal) == "" {
		return string(optimization.MaxSharpe)
	}
	return req.OptimizationGoal
}

func (req *OptimizeRequest) includeDiversification() bool {
	return req.IncludeDiversification == nil || *req.IncludeDiversification
}

func describeBound(b optimization.Bound) string {
	return fmt.Sprintf("%.1f%%-%.1f%%", b.Min*100, b.Max*100)
}
