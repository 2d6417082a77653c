package prices_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/optimizer/internal/database"
	"github.com/aristath/optimizer/internal/modules/prices"
	testingpkg "github.com/aristath/optimizer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepository(t *testing.T) *prices.Repository {
	master := testingpkg.NewTestDB(t, database.Master)
	working := testingpkg.NewTestDB(t, database.Working)
	return prices.NewRepository(master.Conn(), working.Conn(), zerolog.Nop())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGetPriceMatrix_ForwardFillsAndDropsLeadingRows(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPrices(ctx, []prices.Price{
		{Symbol: "a.us", Date: day(2024, 1, 1), AdjustedClose: 10},
		{Symbol: "A.US", Date: day(2024, 1, 2), AdjustedClose: 11},
		{Symbol: "A.US", Date: day(2024, 1, 3), AdjustedClose: 12},
		{Symbol: "A.US", Date: day(2024, 1, 4), AdjustedClose: 13},
		{Symbol: "B.US", Date: day(2024, 1, 2), AdjustedClose: 50},
		{Symbol: "B.US", Date: day(2024, 1, 4), AdjustedClose: 52},
	}))

	pm, err := repo.GetPriceMatrix(ctx, []string{"B.US", "a.us", "B.US"}, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, []string{"B.US", "A.US"}, pm.Assets)
	assert.Equal(t, []time.Time{day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 4)}, pm.Dates)
	assert.Equal(t, [][]float64{{50, 11}, {50, 12}, {52, 13}}, pm.Prices)
	assert.NoError(t, pm.Validate())
}

func TestGetPriceMatrix_DateRange(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertPrices(ctx,
		testingpkg.NewPriceFixtures([]string{"A.US"}, day(2024, 1, 1), 20, 1)))

	pm, err := repo.GetPriceMatrix(ctx, []string{"A.US"}, day(2024, 1, 8), day(2024, 1, 12))
	require.NoError(t, err)
	require.Len(t, pm.Dates, 5)
	assert.Equal(t, day(2024, 1, 8), pm.Dates[0])
	assert.Equal(t, day(2024, 1, 12), pm.Dates[4])
}

func TestGetPriceMatrix_MissingSymbol(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertPrices(ctx,
		testingpkg.NewPriceFixtures([]string{"A.US"}, day(2024, 1, 1), 5, 1)))

	_, err := repo.GetPriceMatrix(ctx, []string{"A.US", "ZZZ.US"}, time.Time{}, time.Time{})

	var missing *prices.MissingSymbolsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"ZZZ.US"}, missing.Symbols)
}

func TestGetPriceMatrix_CanceledCallerDoesNotFailOthers(t *testing.T) {
	repo := newRepository(t)
	require.NoError(t, repo.UpsertPrices(context.Background(),
		testingpkg.NewPriceFixtures([]string{"A.US", "B.US"}, day(2020, 1, 1), 500, 1)))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			if i%2 == 0 {
				ctx = canceled
			}
			_, errs[i] = repo.GetPriceMatrix(ctx, []string{"A.US", "B.US"}, time.Time{}, time.Time{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if i%2 == 0 {
			if err != nil {
				assert.ErrorIs(t, err, context.Canceled)
			}
			continue
		}
		assert.NoError(t, err, "caller %d", i)
	}
}

func TestUpsertPrices_RejectsInvalidClose(t *testing.T) {
	repo := newRepository(t)
	err := repo.UpsertPrices(context.Background(), []prices.Price{
		{Symbol: "A.US", Date: day(2024, 1, 1), AdjustedClose: 0},
	})
	assert.Error(t, err)
}

func TestCheckCoverage(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertPrices(ctx,
		testingpkg.NewPriceFixtures([]string{"OLD.US"}, day(2015, 1, 1), 40, 1)))
	require.NoError(t, repo.UpsertPrices(ctx,
		testingpkg.NewPriceFixtures([]string{"NEW.US"}, day(2015, 1, 12), 20, 2)))

	t.Run("start within every history", func(t *testing.T) {
		assert.NoError(t, repo.CheckCoverage(ctx, []string{"OLD.US", "NEW.US"}, day(2015, 1, 15)))
	})

	t.Run("start before the newest listing", func(t *testing.T) {
		err := repo.CheckCoverage(ctx, []string{"OLD.US", "NEW.US"}, day(2015, 1, 1))
		var gap *prices.CoverageGapError
		require.True(t, errors.As(err, &gap))
		assert.Equal(t, day(2015, 1, 12), gap.SuggestedStart)
		assert.Equal(t, []string{"NEW.US"}, gap.Limiting)
		assert.Contains(t, err.Error(), "2015-01-12")
	})

	t.Run("unknown symbol", func(t *testing.T) {
		err := repo.CheckCoverage(ctx, []string{"OLD.US", "NOPE.US"}, day(2015, 1, 15))
		var missing *prices.MissingSymbolsError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{"NOPE.US"}, missing.Symbols)
	})

	coverage, err := repo.GetCoverage(ctx, []string{"OLD.US", "NEW.US"})
	require.NoError(t, err)
	require.Len(t, coverage, 2)
	assert.Equal(t, "NEW.US", coverage[0].Symbol)
	assert.Equal(t, 20, coverage[0].Rows)
}

func TestGetAssetGroups(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertAssets(ctx, testingpkg.NewAssetFixtures()))

	groups, err := repo.GetAssetGroups(ctx, append(testingpkg.NewAssetFixtureSymbols(), "UNKNOWN.US"))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"SPY.US":     prices.GroupFunds,
		"AAPL.US":    prices.GroupEquities,
		"MSFT.US":    prices.GroupEquities,
		"TLT.US":     prices.GroupFixedIncome,
		"O.US":       prices.GroupRealEstate,
		"GLD.US":     prices.GroupOther,
		"UNKNOWN.US": prices.GroupOther,
	}, groups)
}

func TestGroupForAssetType(t *testing.T) {
	tests := []struct {
		assetType string
		want      string
	}{
		{"Common Stock", prices.GroupEquities},
		{"preferred stock", prices.GroupEquities},
		{"Closed-End Fund", prices.GroupFunds},
		{"INDEX", prices.GroupFunds},
		{"Bond", prices.GroupFixedIncome},
		{"REIT", prices.GroupRealEstate},
		{"Warrant", prices.GroupOther},
		{"", prices.GroupOther},
	}
	for _, tt := range tests {
		t.Run(tt.assetType, func(t *testing.T) {
			assert.Equal(t, tt.want, prices.GroupForAssetType(tt.assetType))
		})
	}
}

func TestSyncWorkingStore(t *testing.T) {
	master := testingpkg.NewTestDB(t, database.Master)
	working := testingpkg.NewTestDB(t, database.Working)
	repo := prices.NewRepository(master.Conn(), working.Conn(), zerolog.Nop())
	ctx := context.Background()

	// Roughly three years of history ending in late 2024
	require.NoError(t, repo.UpsertPrices(ctx,
		testingpkg.NewPriceFixtures([]string{"A.US", "B.US"}, day(2022, 1, 3), 750, 3)))

	now := day(2024, 11, 1)
	res, err := repo.SyncWorkingStore(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, day(2023, 11, 1), res.WindowStart)
	assert.Positive(t, res.RowsCopied)

	var copied int
	require.NoError(t, working.Conn().QueryRow("SELECT COUNT(*) FROM prices").Scan(&copied))
	assert.Equal(t, res.RowsCopied, copied)

	var oldest string
	require.NoError(t, working.Conn().QueryRow("SELECT MIN(date) FROM prices").Scan(&oldest))
	assert.GreaterOrEqual(t, oldest, "2023-11-01")

	// Reads inside the window match the master store
	fromWorking, err := repo.GetPriceMatrix(ctx, []string{"A.US", "B.US"}, day(2024, 1, 2), time.Time{})
	require.NoError(t, err)
	fromMaster, err := prices.NewRepository(master.Conn(), nil, zerolog.Nop()).
		GetPriceMatrix(ctx, []string{"A.US", "B.US"}, day(2024, 1, 2), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, fromMaster, fromWorking)

	// New prices inside the window reach the working store without a resync
	require.NoError(t, repo.UpsertPrices(ctx, []prices.Price{
		{Symbol: "A.US", Date: day(2025, 1, 6), AdjustedClose: 123},
		{Symbol: "B.US", Date: day(2025, 1, 6), AdjustedClose: 321},
	}))
	var n int
	require.NoError(t, working.Conn().QueryRow("SELECT COUNT(*) FROM prices WHERE date = '2025-01-06'").Scan(&n))
	assert.Equal(t, 2, n)

	// A second sync a year later prunes the oldest rows
	res, err = repo.SyncWorkingStore(ctx, day(2025, 11, 1), 1)
	require.NoError(t, err)
	assert.Positive(t, res.RowsPruned)
}

func TestSyncWorkingStore_RequiresWorkingStore(t *testing.T) {
	master := testingpkg.NewTestDB(t, database.Master)
	repo := prices.NewRepository(master.Conn(), nil, zerolog.Nop())

	_, err := repo.SyncWorkingStore(context.Background(), time.Now(), 1)
	assert.Error(t, err)
}
