package optimization

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultResamples         = 50
	DefaultPerturbationScale = 0.1
	MaxResamples             = 500

	// Eigenvalue floor applied after perturbing the covariance.
	eigenFloor = 1e-8
)

// ResampleSettings controls one robust run.
type ResampleSettings struct {
	Resamples int
	Scale     float64
	Seed      uint64
}

// RobustInfo describes how a robust result was produced.
type RobustInfo struct {
	Resamples int     `json:"resamples"`
	Succeeded int     `json:"succeeded"`
	Scale     float64 `json:"perturbation_scale"`
	Seed      uint64  `json:"seed"`
	FellBack  bool    `json:"fell_back"`
}

// Resampler averages solutions over perturbed mean/covariance estimates.
type Resampler struct {
	solver  *Solver
	workers int
	log     zerolog.Logger
}

// NewResampler creates a resampler that runs up to workers solves at once.
func NewResampler(solver *Solver, workers int, log zerolog.Logger) *Resampler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Resampler{
		solver:  solver,
		workers: workers,
		log:     log.With().Str("component", "resampler").Logger(),
	}
}

type perturbation struct {
	mean []float64
	cov  *mat.SymDense
}

// Run solves kind on each perturbed copy of base and averages the weights.
// Perturbations are drawn sequentially from one seeded source and averaged in
// draw order, so the result depends only on the seed, not on scheduling.
// When every resample fails it falls back to a solve on the unperturbed inputs.
func (r *Resampler) Run(ctx context.Context, kind ObjectiveKind, base *ObjectiveInputs, cs ConstraintSet, targets Targets, settings ResampleSettings) ([]float64, *RobustInfo, error) {
	if settings.Resamples <= 0 {
		settings.Resamples = DefaultResamples
	}
	if settings.Scale <= 0 {
		settings.Scale = DefaultPerturbationScale
	}
	info := &RobustInfo{Resamples: settings.Resamples, Scale: settings.Scale, Seed: settings.Seed}

	rng := rand.New(rand.NewPCG(settings.Seed, settings.Seed^0x9e3779b97f4a7c15))
	draws := make([]perturbation, settings.Resamples)
	for i := range draws {
		draws[i] = perturb(rng, base.Mean, base.Cov, settings.Scale)
	}

	results := make([][]float64, len(draws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, d := range draws {
		g.Go(func() error {
			in := *base
			in.Mean = d.mean
			in.Cov = d.cov
			p, err := problemFor(kind, &in, cs, targets, covVolatilities(d.cov))
			if err != nil {
				return err
			}
			sol, err := r.solver.Solve(gctx, p)
			if err != nil {
				var nc *SolverNonConvergenceError
				if errors.As(err, &nc) {
					r.log.Debug().Int("resample", i).Str("reason", nc.Reason).Msg("Resample did not converge - skipping")
					return nil
				}
				return err
			}
			results[i] = sol.Weights
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	avg := make([]float64, cs.Len())
	for _, w := range results {
		if w == nil {
			continue
		}
		info.Succeeded++
		for j, x := range w {
			avg[j] += x
		}
	}

	if info.Succeeded == 0 {
		r.log.Warn().
			Str("method", string(kind)).
			Int("resamples", settings.Resamples).
			Msg("All resamples failed - falling back to unperturbed solve")
		info.FellBack = true
		p, err := problemFor(kind, base, cs, targets, covVolatilities(base.Cov))
		if err != nil {
			return nil, nil, err
		}
		sol, err := r.solver.Solve(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		return sol.Weights, info, nil
	}

	total := 0.0
	for j := range avg {
		avg[j] /= float64(info.Succeeded)
		total += avg[j]
	}
	if total > 0 {
		for j := range avg {
			avg[j] /= total
		}
	}

	r.log.Debug().
		Str("method", string(kind)).
		Int("resamples", settings.Resamples).
		Int("succeeded", info.Succeeded).
		Msg("Robust resampling complete")

	return avg, info, nil
}

// perturb returns mean_i(1+n_i) and cov_ij(1 + 0.5·S_ij), S the symmetrised
// noise matrix, with the covariance's eigenvalues clipped to eigenFloor.
// The inputs are not modified.
func perturb(rng *rand.Rand, mean []float64, cov *mat.SymDense, scale float64) perturbation {
	n := len(mean)
	m := make([]float64, n)
	for i := range mean {
		m[i] = mean[i] * (1 + rng.NormFloat64()*scale)
	}

	noise := make([]float64, n*n)
	for i := range noise {
		noise[i] = rng.NormFloat64() * scale
	}

	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := (noise[i*n+j] + noise[j*n+i]) / 2
			c.SetSym(i, j, cov.At(i, j)*(1+0.5*s))
		}
	}

	return perturbation{mean: m, cov: clipEigenvalues(c, eigenFloor)}
}

// clipEigenvalues rebuilds V·diag(max(λ, floor))·Vᵀ. If the decomposition
// fails the input is returned with its diagonal floored.
func clipEigenvalues(c *mat.SymDense, floor float64) *mat.SymDense {
	n := c.SymmetricDim()
	var eig mat.EigenSym
	if !eig.Factorize(c, true) {
		for i := 0; i < n; i++ {
			c.SetSym(i, i, math.Max(c.At(i, i), floor))
		}
		return c
	}

	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := 0.0
			for k := 0; k < n; k++ {
				s += vecs.At(i, k) * math.Max(values[k], floor) * vecs.At(j, k)
			}
			out.SetSym(i, j, s)
		}
	}
	return out
}

func covVolatilities(cov *mat.SymDense) []float64 {
	n := cov.SymmetricDim()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Sqrt(math.Max(cov.At(i, i), 0))
	}
	return out
}
