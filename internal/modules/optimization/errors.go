package optimization

import (
	"fmt"
	"strings"
)

// InputShapeError reports a price matrix the engine cannot work with:
// too few rows, no columns, ragged rows, or a requested asset that is absent.
type InputShapeError struct {
	Reason  string
	Rows    int
	Columns int
	Asset   string
}

func (e *InputShapeError) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("invalid price matrix: %s (asset %s)", e.Reason, e.Asset)
	}
	return fmt.Sprintf("invalid price matrix: %s (%d rows x %d columns)", e.Reason, e.Rows, e.Columns)
}

// InvalidRequestError reports a request field that is missing or out of range.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SolverNonConvergenceError is returned when no feasible portfolio could be
// found for an objective. Target and TargetValue are set when the objective
// carries a target constraint, since that is the usual cause.
type SolverNonConvergenceError struct {
	Objective   ObjectiveKind
	Target      string
	TargetValue *float64
	Assets      int
	Reason      string
}

func (e *SolverNonConvergenceError) Error() string {
	var b strings.Builder
	if e.Target != "" && e.TargetValue != nil {
		fmt.Fprintf(&b, "no feasible portfolio meets target %s of %s given constraints",
			e.Target, formatTarget(e.Target, *e.TargetValue))
	} else {
		fmt.Fprintf(&b, "optimization did not converge for %s", e.Objective)
	}
	if e.Assets > 0 {
		fmt.Fprintf(&b, " (%d assets)", e.Assets)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func formatTarget(target string, v float64) string {
	if target == TargetCVaR {
		return fmt.Sprintf("%.2f%% daily", v*100)
	}
	return fmt.Sprintf("%.2f%%", v*100)
}
