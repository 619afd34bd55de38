package risk

import (
	"fmt"
	"math"
)

// Severity is the discrete classification of a continuous risk score.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Classification thresholds, inclusive lower bounds, checked highest
// first: a score of exactly 0.5 is HIGH, exactly 0.3 is MEDIUM.
const (
	criticalThreshold = 0.7
	highThreshold     = 0.5
	mediumThreshold   = 0.3
)

// Weights combines the four independent risk signals into one overall
// score. The weights must sum to 1.0; Validate enforces this at
// construction time rather than assuming it.
type Weights struct {
	Delivery  float64
	Inventory float64
	Quality   float64
	Financial float64
}

// DefaultWeights returns the standard weighting: delivery risk dominates,
// financial risk contributes least.
func DefaultWeights() Weights {
	return Weights{Delivery: 0.4, Inventory: 0.3, Quality: 0.2, Financial: 0.1}
}

// Validate checks that the weights sum to 1.0 within floating-point
// tolerance. A violation is a configuration error and must abort startup.
func (w Weights) Validate() error {
	sum := w.Delivery + w.Inventory + w.Quality + w.Financial
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("risk weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Signals holds the four per-category risk scores, each normalized to
// [0,1] by its own data-gathering step. A signal that could not be
// gathered is 0.0, meaning "no evidence of this risk", not "zero risk".
type Signals struct {
	Delivery  float64
	Inventory float64
	Quality   float64
	Financial float64
}

// Overall computes the weighted sum of the signals.
func (w Weights) Overall(s Signals) float64 {
	return w.Delivery*s.Delivery +
		w.Inventory*s.Inventory +
		w.Quality*s.Quality +
		w.Financial*s.Financial
}

// ClassifySeverity maps a score to its severity band.
func ClassifySeverity(score float64) Severity {
	switch {
	case score >= criticalThreshold:
		return SeverityCritical
	case score >= highThreshold:
		return SeverityHigh
	case score >= mediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
