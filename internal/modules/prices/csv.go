package prices

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/optimizer/internal/modules/optimization"
)

// ReadWideCSV parses a price file with a date column followed by one
// column per symbol:
//
//	date,SPY.US,TLT.US
//	2024-01-02,470.1,98.2
//
// Blank cells are skipped. Symbols are normalised like request tickers.
func ReadWideCSV(r io.Reader) ([]Price, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty price file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header needs a date column and at least one symbol")
	}

	symbols := make([]string, len(header)-1)
	seen := make(map[string]bool, len(symbols))
	for i, h := range header[1:] {
		s := strings.ToUpper(strings.TrimSpace(h))
		if s == "" {
			return nil, fmt.Errorf("column %d has no symbol", i+2)
		}
		if seen[s] {
			return nil, fmt.Errorf("duplicate column %s", s)
		}
		seen[s] = true
		symbols[i] = s
	}

	var out []Price
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read prices: %w", err)
		}
		line, _ := reader.FieldPos(0)

		date, err := time.Parse(DateLayout, strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q", line, record[0])
		}
		for j, cell := range record[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
				return nil, fmt.Errorf("line %d: invalid price %q for %s", line, cell, symbols[j])
			}
			out = append(out, Price{Symbol: symbols[j], Date: date, AdjustedClose: v})
		}
	}
	return out, nil
}

// PivotPrices arranges long-format rows into a dense matrix with the same
// forward-fill and drop rules as stored prices. Columns follow first
// appearance.
func PivotPrices(rows []Price) optimization.PriceMatrix {
	var symbols []string
	col := make(map[string]int)
	byDate := make(map[time.Time][]Price)
	for _, p := range rows {
		if _, ok := col[p.Symbol]; !ok {
			col[p.Symbol] = len(symbols)
			symbols = append(symbols, p.Symbol)
		}
		byDate[p.Date] = append(byDate[p.Date], p)
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	grid := make([][]float64, len(dates))
	for i, d := range dates {
		row := make([]float64, len(symbols))
		for j := range row {
			row[j] = math.NaN()
		}
		for _, p := range byDate[d] {
			row[col[p.Symbol]] = p.AdjustedClose
		}
		grid[i] = row
	}
	return alignPrices(symbols, dates, grid)
}
