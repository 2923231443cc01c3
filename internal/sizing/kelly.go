// Package sizing computes position fractions for a binary TP/SL bet from the
// model's up-probability and confidence.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Strategy selects a position-sizing formula.
type Strategy string

const (
	ConservativeKelly          Strategy = "CONSERVATIVE_KELLY"
	EstimationRiskKelly        Strategy = "ESTIMATION_RISK_KELLY"
	HalfKelly                  Strategy = "HALF_KELLY"
	Fixed100Percent            Strategy = "FIXED_100_PERCENT"
	CurrentKellyTimesConfidence Strategy = "CURRENT_KELLY_TIMES_CONFIDENCE" // kept for backward comparison
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case ConservativeKelly, EstimationRiskKelly, HalfKelly, Fixed100Percent, CurrentKellyTimesConfidence:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown position sizing strategy %q", s)
}

// estimation-risk shrinkage parameters
const (
	estimationRiskLambda = 2.0
	effectiveSampleMax   = 99.0
)

// Kelly returns the pure Kelly fraction clamp((R·p − (1−p))/R, 0, 1) for win
// probability p and payoff ratio R.
func Kelly(p, r float64) float64 {
	if r <= 0 {
		return 0
	}
	return clamp((r*p-(1-p))/r, 0, 1)
}

// Fraction returns the position fraction in [0, 1] for the given strategy.
// entry, tp and sl are prices; p is the predicted up-probability and c the
// confidence in [0, 0.5]. A non-positive entry−SL distance sizes to zero.
func Fraction(strategy Strategy, entry, tp, sl decimal.Decimal, p, c float64) float64 {
	risk := entry.Sub(sl)
	if !risk.IsPositive() {
		return 0
	}
	reward := tp.Sub(entry)
	r := reward.Div(risk).InexactFloat64()

	switch strategy {
	case ConservativeKelly:
		// Bayesian shrinkage of p toward 0.5, weighted by confidence
		shrunk := p*c + 0.5*(1-c)
		return Kelly(shrunk, r)

	case EstimationRiskKelly:
		nEff := 1 + (c/0.5)*effectiveSampleMax
		discount := clamp(1-estimationRiskLambda*p*(1-p)/nEff, 0, 1)
		return Kelly(p, r) * discount

	case HalfKelly:
		return 0.5 * Kelly(p, r)

	case Fixed100Percent:
		return 1.0

	case CurrentKellyTimesConfidence:
		return Kelly(p, r) * c

	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
