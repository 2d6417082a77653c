package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/optimizer/internal/config"
	testingpkg "github.com/aristath/optimizer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir:             t.TempDir(),
		Port:                8080,
		RiskFreeRate:        0.04,
		PeriodsPerYear:      252,
		SolverMaxIterations: 500,
		SolverTimeout:       5 * time.Second,
		RequestTimeout:      time.Minute,
		ResultTTL:           time.Hour,
		WorkingStoreYears:   2,
		SyncSchedule:        "0 30 2 * * *",
		PurgeSchedule:       "@hourly",
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.MasterDB)
	assert.NotNil(t, container.WorkingDB)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "master.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "working.db"))

	// Schemas are idempotent
	require.NoError(t, container.MasterDB.Migrate())
	require.NoError(t, container.WorkingDB.Migrate())
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.Engine)
	assert.NotNil(t, container.OptimizationHandler)
	assert.NotNil(t, container.PortfolioHandler)
	assert.NotNil(t, container.Metrics)
	require.NotNil(t, container.Jobs)
	assert.Equal(t, time.Hour, container.ResultCache.TTL())

	// Seed the master and run the sync job end to end
	ctx := context.Background()
	require.NoError(t, container.PriceRepo.UpsertAssets(ctx, testingpkg.NewAssetFixtures()))
	y, m, d := time.Now().AddDate(-3, 0, 0).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	require.NoError(t, container.PriceRepo.UpsertPrices(ctx,
		testingpkg.NewPriceFixtures([]string{"SPY.US"}, start, 800, 1)))

	require.NoError(t, container.Scheduler.RunNow(container.Jobs.SyncWorkingStore))
	require.NoError(t, container.Scheduler.RunNow(container.Jobs.PurgeResults))
	require.NoError(t, container.Scheduler.RunNow(container.Jobs.WALCheckpoints))

	var rows int
	require.NoError(t, container.WorkingDB.Conn().QueryRow("SELECT COUNT(*) FROM prices").Scan(&rows))
	assert.Positive(t, rows)
	assert.Less(t, rows, 800)
}

func TestWire_BadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.PurgeSchedule = "whenever"

	_, err := Wire(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "purge_results")
}
