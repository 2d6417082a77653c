package portfolios

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/optimizer/internal/database"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository persists portfolios in the working store.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a portfolio repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolios").Logger(),
	}
}

func validate(name string, holdings []Holding) ([]Holding, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Reason: "name is required"}
	}
	if len(holdings) == 0 {
		return nil, &ValidationError{Reason: "at least one holding is required"}
	}

	out := make([]Holding, 0, len(holdings))
	seen := make(map[string]struct{}, len(holdings))
	for _, h := range holdings {
		h.Symbol = strings.ToUpper(strings.TrimSpace(h.Symbol))
		if h.Symbol == "" {
			return nil, &ValidationError{Reason: "holding with empty symbol"}
		}
		if _, dup := seen[h.Symbol]; dup {
			return nil, &ValidationError{Reason: "duplicate symbol " + h.Symbol}
		}
		seen[h.Symbol] = struct{}{}
		if h.Weight < 0 || math.IsNaN(h.Weight) || math.IsInf(h.Weight, 0) {
			return nil, &ValidationError{Reason: fmt.Sprintf("invalid weight %v for %s", h.Weight, h.Symbol)}
		}
		if h.Min != nil && h.Max != nil && *h.Min > *h.Max {
			return nil, &ValidationError{Reason: fmt.Sprintf("min above max for %s", h.Symbol)}
		}
		out = append(out, h)
	}
	return out, nil
}

// Create saves a new portfolio and returns it with its generated id.
func (r *Repository) Create(ctx context.Context, name string, holdings []Holding) (*Portfolio, error) {
	holdings, err := validate(name, holdings)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	p := &Portfolio{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(name),
		Holdings:  holdings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO portfolios (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
			p.ID, p.Name, now.Unix(), now.Unix()); err != nil {
			return fmt.Errorf("failed to insert portfolio: %w", err)
		}
		return insertHoldings(ctx, tx, p.ID, holdings)
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().Str("id", p.ID).Str("name", p.Name).Int("holdings", len(holdings)).Msg("Portfolio saved")
	return p, nil
}

// Update replaces the name and holdings of a portfolio. It returns nil when
// the portfolio does not exist.
func (r *Repository) Update(ctx context.Context, id, name string, holdings []Holding) (*Portfolio, error) {
	holdings, err := validate(name, holdings)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	found := false
	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE portfolios SET name = ?, updated_at = ? WHERE id = ?",
			strings.TrimSpace(name), now.Unix(), id)
		if err != nil {
			return fmt.Errorf("failed to update portfolio: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		found = true
		if _, err := tx.ExecContext(ctx, "DELETE FROM portfolio_holdings WHERE portfolio_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear holdings: %w", err)
		}
		return insertHoldings(ctx, tx, id, holdings)
	})
	if err != nil || !found {
		return nil, err
	}
	return r.Get(ctx, id)
}

func insertHoldings(ctx context.Context, tx *sql.Tx, id string, holdings []Holding) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO portfolio_holdings (portfolio_id, symbol, weight, min_weight, max_weight, position)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare holding insert: %w", err)
	}
	defer stmt.Close()

	for i, h := range holdings {
		if _, err := stmt.ExecContext(ctx, id, h.Symbol, h.Weight, nullFloat(h.Min), nullFloat(h.Max), i); err != nil {
			return fmt.Errorf("failed to insert holding %s: %w", h.Symbol, err)
		}
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// Get returns a portfolio by id, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, id string) (*Portfolio, error) {
	var p Portfolio
	var created, updated int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM portfolios WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio: %w", err)
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	p.UpdatedAt = time.Unix(updated, 0).UTC()

	holdings, err := r.holdings(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p.Holdings = holdings[id]
	return &p, nil
}

// List returns every portfolio, most recently updated first.
func (r *Repository) List(ctx context.Context) ([]Portfolio, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, created_at, updated_at FROM portfolios ORDER BY updated_at DESC, name")
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var out []Portfolio
	var ids []string
	for rows.Next() {
		var p Portfolio
		var created, updated int64
		if err := rows.Scan(&p.ID, &p.Name, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		p.CreatedAt = time.Unix(created, 0).UTC()
		p.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	holdings, err := r.holdings(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Holdings = holdings[out[i].ID]
	}
	return out, nil
}

func (r *Repository) holdings(ctx context.Context, ids []string) (map[string][]Holding, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT portfolio_id, symbol, weight, min_weight, max_weight
		FROM portfolio_holdings WHERE portfolio_id IN (`+placeholders+`)
		ORDER BY portfolio_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Holding, len(ids))
	for rows.Next() {
		var id string
		var h Holding
		var lo, hi sql.NullFloat64
		if err := rows.Scan(&id, &h.Symbol, &h.Weight, &lo, &hi); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		if lo.Valid {
			h.Min = &lo.Float64
		}
		if hi.Valid {
			h.Max = &hi.Float64
		}
		out[id] = append(out[id], h)
	}
	return out, rows.Err()
}

// Delete removes a portfolio. It reports whether one was deleted.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM portfolios WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete portfolio: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read deleted rows: %w", err)
	}
	if n > 0 {
		r.log.Info().Str("id", id).Msg("Portfolio deleted")
	}
	return n > 0, nil
}
