package portfolios_test

import (
	"strings"
	"testing"

	"github.com/aristath/optimizer/internal/modules/portfolios"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCSV(t *testing.T) {
	out, err := portfolios.ExportCSV([]portfolios.Holding{
		{Symbol: "SPY.US", Weight: 0.6},
		{Symbol: "TLT.US", Weight: 0.4, Min: f(0.1), Max: f(1)},
		{Symbol: "GLD.US", Weight: 0, Min: f(0), Max: f(0.15)},
	})
	require.NoError(t, err)

	assert.Equal(t, "ticker,weight_pct,min_pct,max_pct\n"+
		"SPY.US,60.0,,\n"+
		"TLT.US,40.0,10.0,\n"+
		"GLD.US,0.0,,15.0\n", out)
}

func TestImportCSV(t *testing.T) {
	in := "Ticker,Weight_pct,min_pct,max_pct\n" +
		"spy, 50\n" +
		"\n" +
		"TLT.US,30,10\n" +
		"gld.us,20,,25\n" +
		"BAD\n" +
		"QQQ,abc\n" +
		"VTI,,x,y\n"

	res, err := portfolios.ImportCSV(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, res.Holdings, 4)
	assert.Equal(t, "SPY.US", res.Holdings[0].Symbol)
	assert.Equal(t, 0.5, res.Holdings[0].Weight)
	assert.Nil(t, res.Holdings[0].Min)

	tlt := res.Holdings[1]
	require.NotNil(t, tlt.Min)
	assert.InDelta(t, 0.1, *tlt.Min, 1e-12)
	assert.Equal(t, 1.0, *tlt.Max)

	gld := res.Holdings[2]
	assert.Equal(t, "GLD.US", gld.Symbol)
	assert.Equal(t, 0.0, *gld.Min)
	assert.Equal(t, 0.25, *gld.Max)

	vti := res.Holdings[3]
	assert.Equal(t, "VTI.US", vti.Symbol)
	assert.Equal(t, 0.0, vti.Weight)
	assert.Nil(t, vti.Min)

	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "Line 6")
	assert.Contains(t, res.Errors[1], `invalid weight "abc"`)
}

func TestImportCSV_RoundTripsExport(t *testing.T) {
	holdings := []portfolios.Holding{
		{Symbol: "SPY.US", Weight: 0.7, Min: f(0.2), Max: f(0.8)},
		{Symbol: "TLT.US", Weight: 0.3},
	}
	out, err := portfolios.ExportCSV(holdings)
	require.NoError(t, err)

	res, err := portfolios.ImportCSV(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, res.Holdings, 2)
	assert.InDelta(t, 0.7, res.Holdings[0].Weight, 1e-12)
	assert.InDelta(t, 0.8, *res.Holdings[0].Max, 1e-12)
	assert.Empty(t, res.Errors)
}

func TestNormalizeTicker(t *testing.T) {
	assert.Equal(t, "AAPL.US", portfolios.NormalizeTicker(" aapl "))
	assert.Equal(t, "VOD.LSE", portfolios.NormalizeTicker("vod.lse"))
	assert.Equal(t, "", portfolios.NormalizeTicker(""))
}
