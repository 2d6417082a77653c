package prices

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/optimizer/internal/database"
)

// SyncResult summarises one working-store sync.
type SyncResult struct {
	WindowStart time.Time     `json:"window_start"`
	RowsCopied  int           `json:"rows_copied"`
	RowsPruned  int64         `json:"rows_pruned"`
	Elapsed     time.Duration `json:"elapsed"`
}

// SyncWorkingStore copies the last `years` years of master prices into the
// working store and prunes working rows older than that window.
func (r *Repository) SyncWorkingStore(ctx context.Context, now time.Time, years int) (*SyncResult, error) {
	if r.working == nil {
		return nil, fmt.Errorf("no working store configured")
	}
	if years <= 0 {
		return nil, fmt.Errorf("working store window must be at least one year, got %d", years)
	}

	started := time.Now()
	y, m, d := now.AddDate(-years, 0, 0).Date()
	windowStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	from := windowStart.Format(DateLayout)

	rows, err := r.master.QueryContext(ctx,
		"SELECT symbol, date, adjusted_close FROM prices WHERE date >= ? ORDER BY symbol, date", from)
	if err != nil {
		return nil, fmt.Errorf("failed to read master prices: %w", err)
	}
	defer rows.Close()

	result := &SyncResult{WindowStart: windowStart}
	err = database.WithTransaction(r.working, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM prices WHERE date < ?", from)
		if err != nil {
			return fmt.Errorf("failed to prune working prices: %w", err)
		}
		if result.RowsPruned, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count pruned working prices: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO prices (symbol, date, adjusted_close) VALUES (?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET adjusted_close = excluded.adjusted_close`)
		if err != nil {
			return fmt.Errorf("failed to prepare working insert: %w", err)
		}
		defer stmt.Close()

		for rows.Next() {
			var symbol, date string
			var price float64
			if err := rows.Scan(&symbol, &date, &price); err != nil {
				return fmt.Errorf("failed to scan master price: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, symbol, date, price); err != nil {
				return fmt.Errorf("failed to copy %s %s: %w", symbol, date, err)
			}
			result.RowsCopied++
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate master prices: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_state (id, window_start, synced_at, rows_copied) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				window_start = excluded.window_start,
				synced_at = excluded.synced_at,
				rows_copied = excluded.rows_copied`,
			from, now.Unix(), result.RowsCopied)
		if err != nil {
			return fmt.Errorf("failed to record sync state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(started)
	r.log.Info().
		Str("window_start", from).
		Int("rows_copied", result.RowsCopied).
		Int64("rows_pruned", result.RowsPruned).
		Dur("elapsed", result.Elapsed).
		Msg("Working store synced")
	return result, nil
}
