package main

import (
	"github.com/aristath/optimizer/internal/modules/optimization"
	"github.com/spf13/cobra"
)

func newFrontierCmd(root *rootOptions) *cobra.Command {
	var (
		pricesPath string
		points     int
		periods    int
	)
	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "Print efficient frontier points for a wide CSV price file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := loadPriceFile(pricesPath)
			if err != nil {
				return err
			}

			engine := optimization.NewEngine(optimization.EngineConfig{
				Solver:         optimization.DefaultSolverSettings(),
				PeriodsPerYear: periods,
			}, root.log)
			pts, err := engine.EfficientFrontier(cmd.Context(), optimization.FrontierRequest{
				Prices:         pm,
				Points:         points,
				PeriodsPerYear: periods,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"assets": pm.Assets,
				"points": pts,
			})
		},
	}

	cmd.Flags().StringVar(&pricesPath, "prices", "", "wide CSV file (- for stdin)")
	cmd.Flags().IntVar(&points, "points", 20, "number of frontier points")
	cmd.Flags().IntVar(&periods, "periods-per-year", optimization.DefaultPeriodsPerYear, "return periods per year")
	_ = cmd.MarkFlagRequired("prices")
	return cmd
}
