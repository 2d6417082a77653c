// Package prices stores adjusted closes in the two-tier SQLite store and
// serves aligned price matrices to the optimizer.
package prices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/optimizer/internal/database"
	"github.com/aristath/optimizer/internal/modules/optimization"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Repository reads and writes prices. The master store holds full history;
// the working store holds a recent window copied by SyncWorkingStore and is
// preferred for reads it can fully serve.
type Repository struct {
	master  *sql.DB
	working *sql.DB
	loads   singleflight.Group
	log     zerolog.Logger
}

// NewRepository creates a price repository. working may be nil, in which case
// every read goes to the master store.
func NewRepository(master, working *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		master:  master,
		working: working,
		log:     log.With().Str("repo", "prices").Logger(),
	}
}

// NormalizeSymbols upper-cases, trims and de-duplicates symbols, keeping order.
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// UpsertAssets inserts or updates asset metadata in the master store.
func (r *Repository) UpsertAssets(ctx context.Context, assets []Asset) error {
	now := time.Now().Unix()
	return database.WithTransaction(r.master, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO assets (symbol, name, asset_type, exchange, currency, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				name = excluded.name,
				asset_type = excluded.asset_type,
				exchange = excluded.exchange,
				currency = excluded.currency,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare asset upsert: %w", err)
		}
		defer stmt.Close()

		for _, a := range assets {
			symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
			if symbol == "" {
				return fmt.Errorf("asset with empty symbol")
			}
			if _, err := stmt.ExecContext(ctx, symbol, a.Name, a.AssetType, a.Exchange, a.Currency, now); err != nil {
				return fmt.Errorf("failed to upsert asset %s: %w", symbol, err)
			}
		}
		return nil
	})
}

// UpsertPrices writes prices to the master store. Rows inside the working
// window are written there too, so reads stay consistent between syncs.
func (r *Repository) UpsertPrices(ctx context.Context, prices []Price) error {
	for _, p := range prices {
		if p.AdjustedClose <= 0 || math.IsNaN(p.AdjustedClose) || math.IsInf(p.AdjustedClose, 0) {
			return fmt.Errorf("invalid adjusted close %v for %s on %s", p.AdjustedClose, p.Symbol, p.Date.Format(DateLayout))
		}
	}

	if err := upsertPrices(ctx, r.master, prices); err != nil {
		return fmt.Errorf("master store: %w", err)
	}

	if r.working == nil {
		return nil
	}
	windowStart, ok, err := r.workingWindow(ctx)
	if err != nil || !ok {
		return err
	}
	var recent []Price
	for _, p := range prices {
		if !p.Date.Before(windowStart) {
			recent = append(recent, p)
		}
	}
	if len(recent) == 0 {
		return nil
	}
	if err := upsertPrices(ctx, r.working, recent); err != nil {
		return fmt.Errorf("working store: %w", err)
	}
	return nil
}

func upsertPrices(ctx context.Context, db *sql.DB, prices []Price) error {
	return database.WithTransaction(db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO prices (symbol, date, adjusted_close) VALUES (?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET adjusted_close = excluded.adjusted_close`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
			if _, err := stmt.ExecContext(ctx, symbol, p.Date.Format(DateLayout), p.AdjustedClose); err != nil {
				return fmt.Errorf("failed to upsert price %s %s: %w", symbol, p.Date.Format(DateLayout), err)
			}
		}
		return nil
	})
}

// workingWindow returns the start of the synced window, if a sync has run.
func (r *Repository) workingWindow(ctx context.Context) (time.Time, bool, error) {
	var raw string
	err := r.working.QueryRowContext(ctx, "SELECT window_start FROM sync_state WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read sync state: %w", err)
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt sync state window %q: %w", raw, err)
	}
	return t, true, nil
}

// storeFor picks the working store when its window covers start.
func (r *Repository) storeFor(ctx context.Context, start time.Time) (*sql.DB, string) {
	if r.working == nil || start.IsZero() {
		return r.master, database.Master
	}
	windowStart, ok, err := r.workingWindow(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Falling back to master store")
		return r.master, database.Master
	}
	if ok && !start.Before(windowStart) {
		return r.working, database.Working
	}
	return r.master, database.Master
}

// GetPriceMatrix loads adjusted closes for symbols between start and end
// (inclusive; zero values leave that side open). Columns follow the order of
// symbols. Gaps are forward-filled and rows where any symbol has not started
// trading are dropped. Concurrent identical loads share one query.
func (r *Repository) GetPriceMatrix(ctx context.Context, symbols []string, start, end time.Time) (optimization.PriceMatrix, error) {
	symbols = NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return optimization.PriceMatrix{}, &optimization.InvalidRequestError{Field: "tickers", Reason: "no symbols requested"}
	}

	db, store := r.storeFor(ctx, start)
	key := fmt.Sprintf("%s|%s|%s|%s", store, strings.Join(symbols, ","), dateKey(start), dateKey(end))

	// The shared load outlives any single caller; each caller stops waiting
	// when its own context ends.
	loadCtx := context.WithoutCancel(ctx)
	ch := r.loads.DoChan(key, func() (interface{}, error) {
		return r.loadMatrix(loadCtx, db, symbols, start, end)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return optimization.PriceMatrix{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return optimization.PriceMatrix{}, res.Err
	}
	v, shared := res.Val, res.Shared

	r.log.Debug().
		Str("store", store).
		Int("symbols", len(symbols)).
		Bool("shared", shared).
		Msg("Loaded price matrix")

	// Shared results are handed out read-only; give each caller its own rows.
	pm := v.(optimization.PriceMatrix)
	return pm.Select(pm.Assets)
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func (r *Repository) loadMatrix(ctx context.Context, db *sql.DB, symbols []string, start, end time.Time) (optimization.PriceMatrix, error) {
	query, args := pricesQuery(symbols, start, end)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return optimization.PriceMatrix{}, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	col := make(map[string]int, len(symbols))
	for j, s := range symbols {
		col[s] = j
	}

	var (
		dates []time.Time
		grid  [][]float64
		last  string
		found = make([]bool, len(symbols))
	)
	for rows.Next() {
		var symbol, date string
		var price float64
		if err := rows.Scan(&symbol, &date, &price); err != nil {
			return optimization.PriceMatrix{}, fmt.Errorf("failed to scan price: %w", err)
		}
		if date != last {
			d, err := time.Parse(DateLayout, date)
			if err != nil {
				return optimization.PriceMatrix{}, fmt.Errorf("invalid stored date %q for %s: %w", date, symbol, err)
			}
			row := make([]float64, len(symbols))
			for j := range row {
				row[j] = math.NaN()
			}
			dates = append(dates, d)
			grid = append(grid, row)
			last = date
		}
		j := col[symbol]
		grid[len(grid)-1][j] = price
		found[j] = true
	}
	if err := rows.Err(); err != nil {
		return optimization.PriceMatrix{}, fmt.Errorf("failed to iterate prices: %w", err)
	}

	var missing []string
	for j, ok := range found {
		if !ok {
			missing = append(missing, symbols[j])
		}
	}
	if len(missing) > 0 {
		return optimization.PriceMatrix{}, &MissingSymbolsError{Symbols: missing}
	}

	return alignPrices(symbols, dates, grid), nil
}

func pricesQuery(symbols []string, start, end time.Time) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]interface{}, 0, len(symbols)+2)
	for _, s := range symbols {
		args = append(args, s)
	}

	query := "SELECT symbol, date, adjusted_close FROM prices WHERE symbol IN (" + placeholders + ")"
	if !start.IsZero() {
		query += " AND date >= ?"
		args = append(args, start.Format(DateLayout))
	}
	if !end.IsZero() {
		query += " AND date <= ?"
		args = append(args, end.Format(DateLayout))
	}
	return query + " ORDER BY date, symbol", args
}

// alignPrices forward-fills each column and drops rows that still have gaps.
func alignPrices(symbols []string, dates []time.Time, grid [][]float64) optimization.PriceMatrix {
	for j := range symbols {
		prev := math.NaN()
		for i := range grid {
			if math.IsNaN(grid[i][j]) {
				grid[i][j] = prev
			} else {
				prev = grid[i][j]
			}
		}
	}

	pm := optimization.PriceMatrix{Assets: symbols}
	for i, row := range grid {
		complete := true
		for _, p := range row {
			if math.IsNaN(p) {
				complete = false
				break
			}
		}
		if complete {
			pm.Dates = append(pm.Dates, dates[i])
			pm.Prices = append(pm.Prices, row)
		}
	}
	return pm
}

// GetCoverage returns the stored date range of each symbol found in the
// master store, in symbol order.
func (r *Repository) GetCoverage(ctx context.Context, symbols []string) ([]Coverage, error) {
	symbols = NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = s
	}

	rows, err := r.master.QueryContext(ctx, `
		SELECT symbol, MIN(date), MAX(date), COUNT(*)
		FROM prices WHERE symbol IN (`+placeholders+`)
		GROUP BY symbol ORDER BY symbol`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage: %w", err)
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var c Coverage
		var first, last string
		if err := rows.Scan(&c.Symbol, &first, &last, &c.Rows); err != nil {
			return nil, fmt.Errorf("failed to scan coverage: %w", err)
		}
		if c.Start, err = time.Parse(DateLayout, first); err != nil {
			return nil, fmt.Errorf("invalid first date for %s: %w", c.Symbol, err)
		}
		if c.End, err = time.Parse(DateLayout, last); err != nil {
			return nil, fmt.Errorf("invalid last date for %s: %w", c.Symbol, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CheckCoverage verifies that every symbol has history reaching back to
// start. Symbols with no data are reported as MissingSymbolsError; a start
// before the latest first date is reported as CoverageGapError naming the
// symbols that limit it.
func (r *Repository) CheckCoverage(ctx context.Context, symbols []string, start time.Time) error {
	symbols = NormalizeSymbols(symbols)
	coverage, err := r.GetCoverage(ctx, symbols)
	if err != nil {
		return err
	}

	bySymbol := make(map[string]Coverage, len(coverage))
	for _, c := range coverage {
		bySymbol[c.Symbol] = c
	}
	var missing []string
	var latest time.Time
	for _, s := range symbols {
		c, ok := bySymbol[s]
		if !ok {
			missing = append(missing, s)
			continue
		}
		if c.Start.After(latest) {
			latest = c.Start
		}
	}
	if len(missing) > 0 {
		return &MissingSymbolsError{Symbols: missing}
	}
	if start.IsZero() || !start.Before(latest) {
		return nil
	}

	var limiting []string
	for _, c := range coverage {
		if c.Start.After(start) {
			limiting = append(limiting, c.Symbol)
		}
	}
	sort.Slice(limiting, func(i, j int) bool {
		ci, cj := bySymbol[limiting[i]], bySymbol[limiting[j]]
		if !ci.Start.Equal(cj.Start) {
			return ci.Start.After(cj.Start)
		}
		return limiting[i] < limiting[j]
	})
	return &CoverageGapError{RequestedStart: start, SuggestedStart: latest, Limiting: limiting}
}

// GetAssets returns metadata for the symbols found in the master store.
func (r *Repository) GetAssets(ctx context.Context, symbols []string) (map[string]Asset, error) {
	symbols = NormalizeSymbols(symbols)
	out := make(map[string]Asset, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = s
	}

	rows, err := r.master.QueryContext(ctx,
		"SELECT symbol, name, asset_type, exchange, currency FROM assets WHERE symbol IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.Symbol, &a.Name, &a.AssetType, &a.Exchange, &a.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		out[a.Symbol] = a
	}
	return out, rows.Err()
}

// GetAssetGroups maps every symbol to its portfolio group. Symbols without
// metadata belong to Other.
func (r *Repository) GetAssetGroups(ctx context.Context, symbols []string) (map[string]string, error) {
	assets, err := r.GetAssets(ctx, symbols)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]string, len(symbols))
	for _, s := range NormalizeSymbols(symbols) {
		groups[s] = GroupForAssetType(assets[s].AssetType)
	}
	return groups, nil
}
