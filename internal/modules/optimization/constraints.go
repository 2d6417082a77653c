// Package optimization turns a price history into optimal portfolio weights
// under a chosen objective and constraint set, and derives the analytics
// reported for a weight vector.
package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// Tolerances used to judge whether a weight vector satisfies its constraints.
const (
	ConstraintTolerance = 1e-6
	TargetTolerance     = 1e-4
)

// Bound is an inclusive [Min, Max] allocation range, as decimals.
type Bound struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AssetBounds maps an asset to its weight range.
type AssetBounds map[string]Bound

// GroupConstraintSpec bounds the total weight of named groups of assets.
type GroupConstraintSpec struct {
	Bounds     map[string]Bound  // group -> allocation range
	Membership map[string]string // asset -> group
}

// GroupConstraint is a resolved group: member column indices and its range.
type GroupConstraint struct {
	Name    string
	Members []int
	Min     float64
	Max     float64
}

// ConstraintKind distinguishes equality (== 0) from inequality (>= 0) constraints.
type ConstraintKind string

const (
	Equality   ConstraintKind = "eq"
	Inequality ConstraintKind = "ineq"
)

// Constraint is one scalar constraint on the weight vector.
type Constraint struct {
	Kind ConstraintKind
	Name string
	Fun  func(w []float64) float64
}

// ConstraintSet is what the solver needs: per-asset bounds plus the budget and group constraints.
type ConstraintSet struct {
	Lower  []float64
	Upper  []float64
	Groups []GroupConstraint
}

// Len is the number of assets.
func (cs ConstraintSet) Len() int { return len(cs.Lower) }

// Constraints lists the budget equality followed by two inequalities per group.
func (cs ConstraintSet) Constraints() []Constraint {
	out := []Constraint{{
		Kind: Equality,
		Name: "budget",
		Fun: func(w []float64) float64 {
			return sum(w) - 1
		},
	}}
	for _, g := range cs.Groups {
		g := g
		out = append(out,
			Constraint{
				Kind: Inequality,
				Name: g.Name + " min",
				Fun:  func(w []float64) float64 { return groupSum(w, g.Members) - g.Min },
			},
			Constraint{
				Kind: Inequality,
				Name: g.Name + " max",
				Fun:  func(w []float64) float64 { return g.Max - groupSum(w, g.Members) },
			},
		)
	}
	return out
}

// Feasible reports whether the bounds admit a fully invested portfolio and each
// group range is reachable within its members' bounds. It does not prove the
// groups are jointly satisfiable; the solver's final check does that.
func (cs ConstraintSet) Feasible() error {
	lo, hi := sum(cs.Lower), sum(cs.Upper)
	if lo > 1+ConstraintTolerance {
		return fmt.Errorf("asset minimums sum to %.4f, above 100%%", lo)
	}
	if hi < 1-ConstraintTolerance {
		return fmt.Errorf("asset maximums sum to %.4f, below 100%%", hi)
	}
	for _, g := range cs.Groups {
		var glo, ghi float64
		for _, i := range g.Members {
			glo += cs.Lower[i]
			ghi += cs.Upper[i]
		}
		if glo > g.Max+ConstraintTolerance || ghi < g.Min-ConstraintTolerance {
			return fmt.Errorf("group %s range [%.4f, %.4f] unreachable within member bounds", g.Name, g.Min, g.Max)
		}
	}
	return nil
}

// Violation returns the largest violation of the budget, bounds and group constraints.
func (cs ConstraintSet) Violation(w []float64) float64 {
	worst := math.Abs(sum(w) - 1)
	for i, x := range w {
		worst = math.Max(worst, cs.Lower[i]-x)
		worst = math.Max(worst, x-cs.Upper[i])
	}
	for _, g := range cs.Groups {
		s := groupSum(w, g.Members)
		worst = math.Max(worst, g.Min-s)
		worst = math.Max(worst, s-g.Max)
	}
	return worst
}

// ConstraintBuilder translates caller bounds and group specs into a ConstraintSet.
type ConstraintBuilder struct {
	log zerolog.Logger
}

// NewConstraintBuilder creates a new constraint builder.
func NewConstraintBuilder(log zerolog.Logger) *ConstraintBuilder {
	return &ConstraintBuilder{
		log: log.With().Str("component", "constraints").Logger(),
	}
}

// Build clamps per-asset bounds into [0,1] (default (0,1)) and resolves group
// membership into column indices. Out-of-range values are clamped, not rejected.
func (cb *ConstraintBuilder) Build(assets []string, bounds AssetBounds, groups *GroupConstraintSpec) ConstraintSet {
	n := len(assets)
	cs := ConstraintSet{
		Lower: make([]float64, n),
		Upper: make([]float64, n),
	}

	for i, asset := range assets {
		lo, hi := 0.0, 1.0
		if b, ok := bounds[asset]; ok {
			lo, hi = clamp01(b.Min), clamp01(b.Max)
		}
		if lo > hi {
			cb.log.Warn().
				Str("asset", asset).
				Float64("min", lo).
				Float64("max", hi).
				Msg("Minimum above maximum - using maximum for both bounds")
			lo = hi
		}
		cs.Lower[i], cs.Upper[i] = lo, hi
	}

	for asset := range bounds {
		if indexOf(assets, asset) < 0 {
			cb.log.Debug().Str("asset", asset).Msg("Bound for asset not in matrix - ignoring")
		}
	}

	if groups == nil || len(groups.Bounds) == 0 {
		return cs
	}

	names := make([]string, 0, len(groups.Bounds))
	for name := range groups.Bounds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b := groups.Bounds[name]
		var members []int
		for i, asset := range assets {
			if groups.Membership[asset] == name {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			cb.log.Warn().Str("group", name).Msg("Group has no assets in matrix - ignoring")
			continue
		}

		lo, hi := clamp01(b.Min), clamp01(b.Max)
		if lo > hi {
			cb.log.Warn().
				Str("group", name).
				Float64("min", lo).
				Float64("max", hi).
				Msg("Group minimum above maximum - using maximum for both bounds")
			lo = hi
		}
		cs.Groups = append(cs.Groups, GroupConstraint{Name: name, Members: members, Min: lo, Max: hi})
	}

	cb.log.Debug().
		Int("assets", n).
		Int("groups", len(cs.Groups)).
		Msg("Constraints built")

	return cs
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}

func sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

func groupSum(w []float64, members []int) float64 {
	s := 0.0
	for _, i := range members {
		s += w[i]
	}
	return s
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}
