package optimization

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ObjectiveKind names an optimization method.
type ObjectiveKind string

const (
	MaxSharpe                ObjectiveKind = "max_sharpe"
	MinVolatility            ObjectiveKind = "min_volatility"
	MinVolTargetReturn       ObjectiveKind = "min_vol_target_return"
	MaxReturnTargetVol       ObjectiveKind = "max_return_target_vol"
	RiskParityKind           ObjectiveKind = "risk_parity"
	EqualWeight              ObjectiveKind = "equal_weight"
	MinCVaR                  ObjectiveKind = "min_cvar"
	MinCVaRTargetReturn      ObjectiveKind = "min_cvar_target_return"
	MaxReturnTargetCVaR      ObjectiveKind = "max_return_target_cvar"
	MinTrackingError         ObjectiveKind = "min_tracking_error"
	MaxInformationRatio      ObjectiveKind = "max_information_ratio"
	MaxExcessReturnTargetTE  ObjectiveKind = "max_excess_return_target_te"
	MaxKelly                 ObjectiveKind = "max_kelly"
	MinDrawdownTargetReturn  ObjectiveKind = "min_drawdown_target_return"
	MaxOmegaTargetReturn     ObjectiveKind = "max_omega_target_return"
	MaxSortinoTargetReturn   ObjectiveKind = "max_sortino_target_return"
	RobustMaxSharpe          ObjectiveKind = "robust_max_sharpe"
	RobustMinVolatility      ObjectiveKind = "robust_min_volatility"
	RobustMinVolTargetReturn ObjectiveKind = "robust_min_vol_target_return"
	RobustMaxReturnTargetVol ObjectiveKind = "robust_max_return_target_vol"
)

// Target constraint names.
const (
	TargetReturn        = "return"
	TargetVolatility    = "volatility"
	TargetCVaR          = "cvar"
	TargetTrackingError = "tracking_error"
)

// Targets holds the optional target values, as decimals. TargetCVaR is a
// periodic return, e.g. -0.02 for "tail losses no worse than 2% a day".
type Targets struct {
	Return        *float64
	Volatility    *float64
	CVaR          *float64
	TrackingError *float64
}

func (t Targets) value(name string) *float64 {
	switch name {
	case TargetReturn:
		return t.Return
	case TargetVolatility:
		return t.Volatility
	case TargetCVaR:
		return t.CVaR
	case TargetTrackingError:
		return t.TrackingError
	}
	return nil
}

type methodSpec struct {
	objective      func(*ObjectiveInputs) ObjectiveFunc
	target         string
	needsBenchmark bool
	smooth         bool
	robustOf       ObjectiveKind // set on robust_* kinds
	robustVariant  ObjectiveKind // set on kinds that have one
}

var methods = map[ObjectiveKind]methodSpec{
	MaxSharpe:               {objective: NegativeSharpe, smooth: true, robustVariant: RobustMaxSharpe},
	MinVolatility:           {objective: Volatility, smooth: true, robustVariant: RobustMinVolatility},
	MinVolTargetReturn:      {objective: Volatility, target: TargetReturn, smooth: true, robustVariant: RobustMinVolTargetReturn},
	MaxReturnTargetVol:      {objective: NegativeReturn, target: TargetVolatility, smooth: true, robustVariant: RobustMaxReturnTargetVol},
	RiskParityKind:          {objective: RiskParity, smooth: true},
	EqualWeight:             {},
	MinCVaR:                 {objective: CVaRLoss},
	MinCVaRTargetReturn:     {objective: CVaRLoss, target: TargetReturn},
	MaxReturnTargetCVaR:     {objective: NegativeReturn, target: TargetCVaR},
	MinTrackingError:        {objective: TrackingError, needsBenchmark: true, smooth: true},
	MaxInformationRatio:     {objective: NegativeInformationRatio, needsBenchmark: true, smooth: true},
	MaxExcessReturnTargetTE: {objective: NegativeExcessReturn, target: TargetTrackingError, needsBenchmark: true, smooth: true},
	MaxKelly:                {objective: NegativeKelly, smooth: true},
	MinDrawdownTargetReturn: {objective: DrawdownLoss, target: TargetReturn},
	MaxOmegaTargetReturn:    {objective: NegativeOmega, target: TargetReturn},
	MaxSortinoTargetReturn:  {objective: NegativeSortino, target: TargetReturn},

	RobustMaxSharpe:          {robustOf: MaxSharpe},
	RobustMinVolatility:      {robustOf: MinVolatility},
	RobustMinVolTargetReturn: {robustOf: MinVolTargetReturn},
	RobustMaxReturnTargetVol: {robustOf: MaxReturnTargetVol},
}

// ParseObjectiveKind resolves a method name.
func ParseObjectiveKind(s string) (ObjectiveKind, error) {
	k := ObjectiveKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := methods[k]; !ok {
		return "", &InvalidRequestError{Field: "objective", Reason: fmt.Sprintf("unknown method %q", s)}
	}
	return k, nil
}

// Kinds lists every supported method, sorted.
func Kinds() []ObjectiveKind {
	out := make([]ObjectiveKind, 0, len(methods))
	for k := range methods {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsRobust reports whether the kind runs through the resampler.
func (k ObjectiveKind) IsRobust() bool {
	return methods[k].robustOf != ""
}

// Base returns the non-robust kind a robust kind wraps, or k itself.
func (k ObjectiveKind) Base() ObjectiveKind {
	if b := methods[k].robustOf; b != "" {
		return b
	}
	return k
}

// RobustVariant returns the robust kind for k, if one exists.
func (k ObjectiveKind) RobustVariant() (ObjectiveKind, bool) {
	if k.IsRobust() {
		return k, true
	}
	v := methods[k].robustVariant
	return v, v != ""
}

// Target returns the target constraint name the kind requires, or "".
func (k ObjectiveKind) Target() string {
	return methods[k.Base()].target
}

// NeedsBenchmark reports whether the kind needs a benchmark series.
func (k ObjectiveKind) NeedsBenchmark() bool {
	return methods[k.Base()].needsBenchmark
}

// targetConstraint builds the g(w) >= 0 inequality for a named target.
func targetConstraint(name string, value float64, in *ObjectiveInputs) TargetConstraint {
	tc := TargetConstraint{Name: name, Value: value}
	switch name {
	case TargetReturn:
		tc.Fn = func(w []float64) float64 { return PortfolioReturn(in.Mean, w) - value }
	case TargetVolatility:
		tc.Fn = func(w []float64) float64 { return value - PortfolioVolatility(in.Cov, w) }
	case TargetCVaR:
		tc.Fn = func(w []float64) float64 { return PortfolioCVaR(in, w) - value }
	case TargetTrackingError:
		tc.Fn = func(w []float64) float64 { return value - PortfolioTrackingError(in, w) }
	default:
		tc.Fn = func([]float64) float64 { return math.Inf(-1) }
	}
	return tc
}

// problemFor assembles the solver problem for a non-robust kind.
func problemFor(kind ObjectiveKind, in *ObjectiveInputs, cs ConstraintSet, targets Targets, vols []float64) (Problem, error) {
	spec := methods[kind]
	if spec.objective == nil {
		return Problem{}, fmt.Errorf("method %s has no objective", kind)
	}

	p := Problem{
		Objective:   spec.objective(in),
		Constraints: cs,
		Smooth:      spec.smooth,
		Fallback:    InverseVolatilityWeights(vols),
	}
	if spec.target != "" {
		v := targets.value(spec.target)
		if v == nil {
			return Problem{}, &InvalidRequestError{
				Field:  "target_" + spec.target,
				Reason: fmt.Sprintf("required by %s", kind),
			}
		}
		p.Targets = []TargetConstraint{targetConstraint(spec.target, *v, in)}
	}
	return p, nil
}
