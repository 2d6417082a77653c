package prices

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the storage format of price dates.
const DateLayout = "2006-01-02"

// Asset is one row of the assets table.
type Asset struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	AssetType string `json:"asset_type"`
	Exchange  string `json:"exchange"`
	Currency  string `json:"currency"`
}

// Price is one adjusted close.
type Price struct {
	Symbol        string
	Date          time.Time
	AdjustedClose float64
}

// Coverage is the date range stored for a symbol.
type Coverage struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Rows   int       `json:"rows"`
}

// Group names used for group constraints.
const (
	GroupEquities    = "Equities"
	GroupFunds       = "Funds"
	GroupFixedIncome = "Fixed Income"
	GroupRealEstate  = "Real Estate"
	GroupOther       = "Other"
)

var assetTypeGroups = map[string]string{
	"common stock":    GroupEquities,
	"preferred stock": GroupEquities,
	"etf":             GroupFunds,
	"fund":            GroupFunds,
	"index":           GroupFunds,
	"closed-end fund": GroupFunds,
	"bond":            GroupFixedIncome,
	"reit":            GroupRealEstate,
}

// GroupForAssetType maps an asset type to its portfolio group.
func GroupForAssetType(assetType string) string {
	if g, ok := assetTypeGroups[strings.ToLower(strings.TrimSpace(assetType))]; ok {
		return g
	}
	return GroupOther
}

// CoverageGapError is returned when the requested start date precedes the
// history of one or more symbols.
type CoverageGapError struct {
	RequestedStart time.Time
	SuggestedStart time.Time
	Limiting       []string
}

func (e *CoverageGapError) Error() string {
	return fmt.Sprintf("price history for %s starts on %s, after the requested start %s",
		strings.Join(e.Limiting, ", "),
		e.SuggestedStart.Format(DateLayout),
		e.RequestedStart.Format(DateLayout))
}

// MissingSymbolsError is returned when symbols have no stored prices at all.
type MissingSymbolsError struct {
	Symbols []string
}

func (e *MissingSymbolsError) Error() string {
	return "no price data for " + strings.Join(e.Symbols, ", ")
}
