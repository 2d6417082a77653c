package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// SolverSettings bounds the work done per solve.
type SolverSettings struct {
	MaxIterations   int           // major iterations per inner minimization
	Timeout         time.Duration // wall-clock budget for one Solve call, 0 = none
	OuterIterations int           // augmented Lagrangian rounds for target constraints
}

// DefaultSolverSettings returns the settings used when none are configured.
func DefaultSolverSettings() SolverSettings {
	return SolverSettings{
		MaxIterations:   1000,
		Timeout:         10 * time.Second,
		OuterIterations: 12,
	}
}

// TargetConstraint is an extra inequality g(w) >= 0 attached to a target objective.
type TargetConstraint struct {
	Name  string
	Value float64
	Fn    func(w []float64) float64
}

// Problem is one constrained minimization.
type Problem struct {
	Objective   ObjectiveFunc
	Constraints ConstraintSet
	Targets     []TargetConstraint
	Initial     []float64 // defaults to equal weight
	Fallback    []float64 // optional second start point tried when the first fails
	Smooth      bool      // false adds a derivative-free polish
}

// Solution is a converged, feasible weight vector.
type Solution struct {
	Weights     []float64
	Objective   float64
	Start       string
	Rounds      int
	Evaluations int
}

const (
	// Stand-in for non-finite objective values so the line search never sees Inf or NaN.
	nonFinitePenalty = 1e10
	// Weight of ½‖x - Π(x)‖², which keeps the unconstrained iterate near the feasible set.
	proximityWeight = 1.0
	initialPenalty  = 10.0
	maxPenalty      = 1e8
)

// Solver minimizes an objective over the budget/bounds/group polytope plus
// optional target inequalities.
//
// Budget, bounds and groups hold by construction: the objective is evaluated
// at Π(x), the projection of the free iterate onto the polytope. Target
// inequalities are handled with an augmented Lagrangian. Inner minimizations
// use gonum's LBFGS on central finite-difference gradients, with a Nelder-Mead
// pass for objectives that are not smooth.
type Solver struct {
	settings SolverSettings
	log      zerolog.Logger
}

// NewSolver creates a new solver.
func NewSolver(settings SolverSettings, log zerolog.Logger) *Solver {
	def := DefaultSolverSettings()
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = def.MaxIterations
	}
	if settings.OuterIterations <= 0 {
		settings.OuterIterations = def.OuterIterations
	}
	return &Solver{
		settings: settings,
		log:      log.With().Str("component", "solver").Logger(),
	}
}

type startPoint struct {
	name string
	x    []float64
}

// Solve runs the minimization from the initial point and, if that does not
// yield a feasible finite solution, once more from the fallback point.
// Non-convergence is reported as *SolverNonConvergenceError; cancellation of
// ctx is returned as ctx.Err().
func (s *Solver) Solve(ctx context.Context, p Problem) (*Solution, error) {
	n := p.Constraints.Len()
	if n == 0 {
		return nil, &InputShapeError{Reason: "no assets to optimize"}
	}
	if err := p.Constraints.Feasible(); err != nil {
		return nil, &SolverNonConvergenceError{Assets: n, Reason: err.Error()}
	}

	solveCtx := ctx
	if s.settings.Timeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, s.settings.Timeout)
		defer cancel()
	}

	initial := p.Initial
	if initial == nil {
		initial = EqualWeights(n)
	}
	starts := []startPoint{{name: "equal_weight", x: initial}}
	if p.Fallback != nil {
		starts = append(starts, startPoint{name: "fallback", x: p.Fallback})
	}

	proj := newProjector(p.Constraints)
	reason := ""
	for _, st := range starts {
		sol, why, err := s.solveFrom(solveCtx, p, proj, st.x)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &SolverNonConvergenceError{
					Assets: n,
					Reason: fmt.Sprintf("time budget of %s exceeded", s.settings.Timeout),
				}
			}
			return nil, err
		}
		if sol != nil {
			sol.Start = st.name
			return sol, nil
		}
		reason = why
		s.log.Debug().
			Str("start", st.name).
			Str("reason", why).
			Msg("Start point did not converge")
	}

	return nil, &SolverNonConvergenceError{Assets: n, Reason: reason}
}

// solveFrom returns (solution, "", nil) on success, (nil, reason, nil) when the
// result is infeasible, and (nil, "", err) when the context ended.
func (s *Solver) solveFrom(ctx context.Context, p Problem, proj *projector, start []float64) (*Solution, string, error) {
	n := p.Constraints.Len()
	x := proj.project(start)

	lambda := make([]float64, len(p.Targets))
	rho := initialPenalty
	prevViolation := math.Inf(1)
	evaluations := 0

	rounds := 1
	if len(p.Targets) > 0 {
		rounds = s.settings.OuterIterations
	}

	round := 0
	for round < rounds {
		round++
		lam := append([]float64(nil), lambda...)
		r := rho
		f := func(x []float64) float64 {
			evaluations++
			w := proj.project(x)
			val := p.Objective(w)
			if math.IsNaN(val) || math.IsInf(val, 0) {
				val = nonFinitePenalty
			}
			val += 0.5 * proximityWeight * dist2(x, w)
			for j, t := range p.Targets {
				shifted := math.Max(0, lam[j]-r*t.Fn(w))
				val += (shifted*shifted - lam[j]*lam[j]) / (2 * r)
			}
			return val
		}

		next, err := s.minimize(ctx, f, x, p.Smooth)
		if err != nil {
			return nil, "", err
		}
		x = next

		if len(p.Targets) == 0 {
			break
		}

		w := proj.project(x)
		violation := 0.0
		for j, t := range p.Targets {
			g := t.Fn(w)
			violation = math.Max(violation, -g)
			lambda[j] = math.Max(0, lambda[j]-rho*g)
		}
		if violation <= TargetTolerance/10 && round > 1 {
			break
		}
		if violation > 0.25*prevViolation {
			rho = math.Min(rho*10, maxPenalty)
		}
		prevViolation = violation
	}

	w := proj.project(x)
	obj := p.Objective(w)
	if math.IsNaN(obj) || math.IsInf(obj, 0) {
		return nil, "objective is not finite at the solution", nil
	}
	if v := p.Constraints.Violation(w); v > ConstraintTolerance {
		return nil, fmt.Sprintf("constraints violated by %.2e", v), nil
	}
	for _, t := range p.Targets {
		if g := t.Fn(w); g < -TargetTolerance {
			return nil, fmt.Sprintf("%s target %.4f missed by %.4f", t.Name, t.Value, -g), nil
		}
	}

	s.log.Debug().
		Int("assets", n).
		Int("rounds", round).
		Int("evaluations", evaluations).
		Float64("objective", obj).
		Msg("Solve converged")

	return &Solution{
		Weights:     w,
		Objective:   obj,
		Rounds:      round,
		Evaluations: evaluations,
	}, "", nil
}

// minimize runs LBFGS and, for non-smooth objectives or when LBFGS fails, a
// Nelder-Mead pass from the best point so far. It returns the best point seen.
func (s *Solver) minimize(ctx context.Context, f func([]float64) float64, x0 []float64, smooth bool) ([]float64, error) {
	best := append([]float64(nil), x0...)
	bestF := f(best)

	consider := func(res *optimize.Result) {
		if res == nil || len(res.X) != len(best) {
			return
		}
		if fx := f(res.X); fx < bestF {
			best = append(best[:0], res.X...)
			bestF = fx
		}
	}

	grad := func(g, x []float64) {
		fd.Gradient(g, f, x, &fd.Settings{Formula: fd.Central, Step: 1e-7})
	}
	res, lbfgsErr := s.run(ctx, optimize.Problem{Func: f, Grad: grad}, best, &optimize.LBFGS{})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	consider(res)

	if !smooth || lbfgsErr != nil {
		res, _ = s.run(ctx, optimize.Problem{Func: f}, best, &optimize.NelderMead{})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		consider(res)
	}

	return best, nil
}

func (s *Solver) run(ctx context.Context, problem optimize.Problem, x0 []float64, method optimize.Method) (*optimize.Result, error) {
	problem.Status = func() (optimize.Status, error) {
		if err := ctx.Err(); err != nil {
			return optimize.Failure, err
		}
		return optimize.NotTerminated, nil
	}

	settings := &optimize.Settings{
		MajorIterations: s.settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-10,
			Iterations: 25,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		settings.Runtime = remaining
	}

	return optimize.Minimize(problem, x0, settings, method)
}

// EqualWeights returns 1/N for every asset.
func EqualWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// InverseVolatilityWeights returns weights proportional to 1/σ_i, the naive
// risk-parity seed. Zero-volatility assets share the weight equally with the rest.
func InverseVolatilityWeights(vols []float64) []float64 {
	w := make([]float64, len(vols))
	total := 0.0
	for i, v := range vols {
		if v > volatilityEpsilon {
			w[i] = 1 / v
			total += w[i]
		}
	}
	if total == 0 {
		return EqualWeights(len(vols))
	}
	for i := range w {
		w[i] /= total
	}
	return w
}

func dist2(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}

// projector maps any vector onto {lo <= w <= hi, Σw = 1, group ranges}.
type projector struct {
	cs ConstraintSet
}

func newProjector(cs ConstraintSet) *projector {
	return &projector{cs: cs}
}

const (
	dykstraCycles    = 500
	dykstraTolerance = 1e-12
)

// project returns the Euclidean projection onto the box∩budget set, or, with
// group constraints, runs Dykstra's alternating projections over the group
// slabs and the box∩budget set. The result always satisfies budget and bounds.
func (p *projector) project(x []float64) []float64 {
	clean := make([]float64, len(x))
	for i, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean[i] = v
		}
	}

	if len(p.cs.Groups) == 0 {
		return projectBudgetBox(clean, p.cs.Lower, p.cs.Upper)
	}

	n := len(clean)
	sets := len(p.cs.Groups) + 1
	increments := make([][]float64, sets)
	for k := range increments {
		increments[k] = make([]float64, n)
	}

	y := clean
	z := make([]float64, n)
	for cycle := 0; cycle < dykstraCycles; cycle++ {
		for k, g := range p.cs.Groups {
			for i := range z {
				z[i] = y[i] + increments[k][i]
			}
			next := projectSlab(z, g)
			for i := range z {
				increments[k][i] = z[i] - next[i]
			}
			y = next
		}

		last := sets - 1
		for i := range z {
			z[i] = y[i] + increments[last][i]
		}
		next := projectBudgetBox(z, p.cs.Lower, p.cs.Upper)
		for i := range z {
			increments[last][i] = z[i] - next[i]
		}
		y = next

		if groupViolation(y, p.cs.Groups) <= dykstraTolerance {
			break
		}
	}
	return y
}

func groupViolation(w []float64, groups []GroupConstraint) float64 {
	worst := 0.0
	for _, g := range groups {
		s := groupSum(w, g.Members)
		worst = math.Max(worst, math.Max(g.Min-s, s-g.Max))
	}
	return worst
}

// projectSlab shifts the group's members equally so their sum lands in [Min, Max].
func projectSlab(z []float64, g GroupConstraint) []float64 {
	out := append([]float64(nil), z...)
	s := groupSum(z, g.Members)
	var shift float64
	switch {
	case s > g.Max:
		shift = (g.Max - s) / float64(len(g.Members))
	case s < g.Min:
		shift = (g.Min - s) / float64(len(g.Members))
	default:
		return out
	}
	for _, i := range g.Members {
		out[i] += shift
	}
	return out
}

// projectBudgetBox finds τ with Σ clip(x_i - τ, lo_i, hi_i) = 1 by bisection.
// The caller guarantees Σlo <= 1 <= Σhi.
func projectBudgetBox(x, lo, hi []float64) []float64 {
	n := len(x)
	tLo, tHi := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		tLo = math.Min(tLo, x[i]-hi[i])
		tHi = math.Max(tHi, x[i]-lo[i])
	}

	w := make([]float64, n)
	fill := func(tau float64) float64 {
		total := 0.0
		for i := 0; i < n; i++ {
			w[i] = math.Max(lo[i], math.Min(hi[i], x[i]-tau))
			total += w[i]
		}
		return total
	}

	for iter := 0; iter < 200 && tHi-tLo > 1e-16; iter++ {
		mid := 0.5 * (tLo + tHi)
		if fill(mid) > 1 {
			tLo = mid
		} else {
			tHi = mid
		}
	}
	total := fill(0.5 * (tLo + tHi))

	// Spread the rounding residual over coordinates strictly inside their bounds.
	if residual := 1 - total; residual != 0 {
		free := 0
		for i := 0; i < n; i++ {
			if w[i] > lo[i] && w[i] < hi[i] {
				free++
			}
		}
		if free > 0 {
			share := residual / float64(free)
			for i := 0; i < n; i++ {
				if w[i] > lo[i] && w[i] < hi[i] {
					w[i] = math.Max(lo[i], math.Min(hi[i], w[i]+share))
				}
			}
		}
	}
	return w
}
