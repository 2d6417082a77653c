package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aristath/optimizer/internal/modules/optimization"
	"github.com/aristath/optimizer/internal/modules/prices"
	"github.com/spf13/cobra"
)

type runOptions struct {
	pricesPath    string
	objective     string
	riskFree      float64
	periods       int
	targetReturn  float64
	targetVol     float64
	targetCVaR    float64
	targetTE      float64
	benchmark     string
	robust        bool
	resamples     int
	seed          uint64
	estimator     string
	maxIterations int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize the assets of a wide CSV price file and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := optimization.ParseObjectiveKind(opts.objective)
			if err != nil {
				return err
			}
			pm, err := loadPriceFile(opts.pricesPath)
			if err != nil {
				return err
			}

			req := optimization.Request{
				Prices:              pm,
				Objective:           kind,
				PeriodsPerYear:      opts.periods,
				Benchmark:           opts.benchmark,
				Robust:              opts.robust,
				RobustResamples:     opts.resamples,
				Seed:                opts.seed,
				CovarianceEstimator: optimization.CovarianceEstimator(opts.estimator),
				Targets:             opts.targets(),
			}
			if cmd.Flags().Changed("risk-free") {
				req.RiskFreeRate = &opts.riskFree
			}
			if opts.benchmark != "" {
				req.Assets = without(pm.Assets, opts.benchmark)
			}

			settings := optimization.DefaultSolverSettings()
			settings.MaxIterations = opts.maxIterations
			engine := optimization.NewEngine(optimization.EngineConfig{Solver: settings, PeriodsPerYear: opts.periods}, root.log)

			res, err := engine.Optimize(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.pricesPath, "prices", "", "wide CSV file: date column then one column per asset (- for stdin)")
	f.StringVar(&opts.objective, "objective", string(optimization.MaxSharpe), "optimization method")
	f.Float64Var(&opts.riskFree, "risk-free", optimization.DefaultRiskFreeRate, "annual risk-free rate as a decimal")
	f.IntVar(&opts.periods, "periods-per-year", optimization.DefaultPeriodsPerYear, "return periods per year")
	f.Float64Var(&opts.targetReturn, "target-return", 0.10, "annual return target as a decimal")
	f.Float64Var(&opts.targetVol, "target-volatility", 0.15, "annual volatility target as a decimal")
	f.Float64Var(&opts.targetCVaR, "target-cvar", -0.02, "daily CVaR floor as a decimal")
	f.Float64Var(&opts.targetTE, "target-tracking-error", 0.05, "annual tracking error target as a decimal")
	f.StringVar(&opts.benchmark, "benchmark", "", "price column used as benchmark and excluded from the portfolio")
	f.BoolVar(&opts.robust, "robust", false, "use the resampled variant of the method")
	f.IntVar(&opts.resamples, "resamples", 0, "robust resample count (0 = default)")
	f.Uint64Var(&opts.seed, "seed", 0, "seed for robust resampling")
	f.StringVar(&opts.estimator, "covariance", string(optimization.CovarianceSample), "covariance estimator")
	f.IntVar(&opts.maxIterations, "max-iterations", optimization.DefaultSolverSettings().MaxIterations, "solver iteration cap")
	_ = cmd.MarkFlagRequired("prices")

	return cmd
}

// targets passes every target the method reads; only the one it needs
// matters, so defaults stay in place unless overridden.
func (o *runOptions) targets() optimization.Targets {
	return optimization.Targets{
		Return:        &o.targetReturn,
		Volatility:    &o.targetVol,
		CVaR:          &o.targetCVaR,
		TrackingError: &o.targetTE,
	}
}

func loadPriceFile(path string) (optimization.PriceMatrix, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return optimization.PriceMatrix{}, fmt.Errorf("failed to open price file: %w", err)
		}
		defer f.Close()
		r = f
	}

	rows, err := prices.ReadWideCSV(r)
	if err != nil {
		return optimization.PriceMatrix{}, err
	}
	pm := prices.PivotPrices(rows)
	if err := pm.Validate(); err != nil {
		return optimization.PriceMatrix{}, err
	}
	return pm, nil
}

func without(assets []string, drop string) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		if a != drop {
			out = append(out, a)
		}
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
