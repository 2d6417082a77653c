package main

import (
	"fmt"
	"os"
	"time"

	"github.com/aristath/optimizer/internal/config"
	"github.com/aristath/optimizer/internal/di"
	"github.com/aristath/optimizer/internal/modules/prices"
	"github.com/spf13/cobra"
)

func newImportCmd(root *rootOptions) *cobra.Command {
	var (
		pricesPath string
		sync       bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a wide CSV price file into the master store under DATA_DIR",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			container, err := di.InitializeDatabases(cfg, root.log)
			if err != nil {
				return err
			}
			defer container.Close()

			f, err := os.Open(pricesPath)
			if err != nil {
				return fmt.Errorf("failed to open price file: %w", err)
			}
			defer f.Close()

			rows, err := prices.ReadWideCSV(f)
			if err != nil {
				return err
			}

			repo := prices.NewRepository(container.MasterDB.Conn(), container.WorkingDB.Conn(), root.log)
			if err := repo.UpsertPrices(cmd.Context(), rows); err != nil {
				return err
			}
			out := map[string]interface{}{"rows": len(rows)}

			if sync {
				res, err := repo.SyncWorkingStore(cmd.Context(), time.Now(), cfg.WorkingStoreYears)
				if err != nil {
					return err
				}
				out["sync"] = res
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&pricesPath, "prices", "", "wide CSV file")
	cmd.Flags().BoolVar(&sync, "sync", true, "refresh the working store after loading")
	_ = cmd.MarkFlagRequired("prices")
	return cmd
}
