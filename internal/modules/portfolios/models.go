// Package portfolios stores named portfolios and converts them to and from CSV.
package portfolios

import "time"

// Holding is one position of a saved portfolio. Weights and bounds are
// decimals (0.25 = 25%). Nil bounds mean unconstrained.
type Holding struct {
	Symbol string   `json:"symbol"`
	Weight float64  `json:"weight"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// Portfolio is a saved portfolio. Holdings keep their insertion order.
type Portfolio struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Holdings  []Holding `json:"holdings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Symbols returns the holding symbols in order.
func (p *Portfolio) Symbols() []string {
	out := make([]string, len(p.Holdings))
	for i, h := range p.Holdings {
		out[i] = h.Symbol
	}
	return out
}

// Weights returns the holding weights by symbol.
func (p *Portfolio) Weights() map[string]float64 {
	out := make(map[string]float64, len(p.Holdings))
	for _, h := range p.Holdings {
		out[h.Symbol] = h.Weight
	}
	return out
}

// ValidationError reports a portfolio that cannot be saved.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid portfolio: " + e.Reason
}
