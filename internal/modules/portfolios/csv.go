package portfolios

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var csvHeader = []string{"ticker", "weight_pct", "min_pct", "max_pct"}

// ExportCSV renders holdings as ticker,weight_pct,min_pct,max_pct with
// percentages to one decimal. A bound of 0% (min) or 100% (max) is left blank.
func ExportCSV(holdings []Holding) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", err
	}

	for _, h := range holdings {
		record := []string{h.Symbol, pct(h.Weight), "", ""}
		if h.Min != nil && *h.Min != 0 {
			record[2] = pct(*h.Min)
		}
		if h.Max != nil && *h.Max != 1 {
			record[3] = pct(*h.Max)
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}

	w.Flush()
	return buf.String(), w.Error()
}

func pct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64)
}

// ImportResult is the outcome of parsing a portfolio CSV. Bad lines are
// reported in Errors and skipped.
type ImportResult struct {
	Holdings []Holding `json:"holdings"`
	Errors   []string  `json:"errors"`
}

// ImportCSV parses ticker,weight_pct[,min_pct[,max_pct]] lines. A header
// line starting with "ticker" is skipped. Tickers without an exchange suffix
// get ".US". When only one bound is given the other defaults to 0% or 100%.
func ImportCSV(r io.Reader) (*ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	res := &ImportResult{Holdings: []Holding{}, Errors: []string{}}
	first := true
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				res.Errors = append(res.Errors, fmt.Sprintf("Line %d: %v", parseErr.Line, parseErr.Err))
				continue
			}
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line, _ := cr.FieldPos(0)

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if first {
			first = false
			if strings.HasPrefix(strings.ToLower(record[0]), "ticker") {
				continue
			}
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) < 2 {
			res.Errors = append(res.Errors, fmt.Sprintf("Line %d: need at least ticker and weight", line))
			continue
		}

		h := Holding{Symbol: NormalizeTicker(record[0])}
		if record[1] != "" {
			w, err := strconv.ParseFloat(record[1], 64)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("Line %d: invalid weight %q", line, record[1]))
				continue
			}
			h.Weight = w / 100
		}

		lo, hasLo := optionalPct(record, 2)
		hi, hasHi := optionalPct(record, 3)
		if hasLo || hasHi {
			if !hasLo {
				lo = 0
			}
			if !hasHi {
				hi = 1
			}
			h.Min, h.Max = &lo, &hi
		}

		res.Holdings = append(res.Holdings, h)
	}
	return res, nil
}

// optionalPct parses record[i] as a percentage. Unparseable values are ignored.
func optionalPct(record []string, i int) (float64, bool) {
	if len(record) <= i || record[i] == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(record[i], 64)
	if err != nil {
		return 0, false
	}
	return v / 100, true
}

// NormalizeTicker upper-cases a ticker and adds the .US suffix when it has
// no exchange.
func NormalizeTicker(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t != "" && !strings.Contains(t, ".") {
		t += ".US"
	}
	return t
}
