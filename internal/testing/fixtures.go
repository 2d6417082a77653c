package testing

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/aristath/optimizer/internal/modules/prices"
)

// NewAssetFixtures returns a small universe covering every asset group.
func NewAssetFixtures() []prices.Asset {
	return []prices.Asset{
		{Symbol: "SPY.US", Name: "SPDR S&P 500 ETF Trust", AssetType: "ETF", Exchange: "NYSE ARCA", Currency: "USD"},
		{Symbol: "AAPL.US", Name: "Apple Inc", AssetType: "Common Stock", Exchange: "NASDAQ", Currency: "USD"},
		{Symbol: "MSFT.US", Name: "Microsoft Corporation", AssetType: "Common Stock", Exchange: "NASDAQ", Currency: "USD"},
		{Symbol: "TLT.US", Name: "iShares 20+ Year Treasury Bond ETF", AssetType: "BOND", Exchange: "NASDAQ", Currency: "USD"},
		{Symbol: "O.US", Name: "Realty Income Corporation", AssetType: "REIT", Exchange: "NYSE", Currency: "USD"},
		{Symbol: "GLD.US", Name: "SPDR Gold Shares", AssetType: "Commodity", Exchange: "NYSE ARCA", Currency: "USD"},
	}
}

// NewAssetFixtureSymbols returns the symbols of NewAssetFixtures.
func NewAssetFixtureSymbols() []string {
	assets := NewAssetFixtures()
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Symbol
	}
	return out
}

// BusinessDays returns n weekdays starting at start.
func BusinessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

// NewPriceFixtures generates a seeded random walk of n business days for
// each symbol starting at start. Each symbol gets its own drift and
// volatility so optimizers have something to choose between.
func NewPriceFixtures(symbols []string, start time.Time, n int, seed uint64) []prices.Price {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	dates := BusinessDays(start, n)

	out := make([]prices.Price, 0, len(symbols)*n)
	for k, s := range symbols {
		drift := 0.0001 * float64(k+1)
		vol := 0.005 + 0.002*float64(k)
		price := 100.0
		for _, d := range dates {
			out = append(out, prices.Price{Symbol: s, Date: d, AdjustedClose: price})
			price *= math.Exp(drift + vol*rng.NormFloat64())
		}
	}
	return out
}
