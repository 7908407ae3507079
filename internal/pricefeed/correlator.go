package pricefeed

import (
	"github.com/shopspring/decimal"
)

// Correlator scores the plausibility of a yield move against the move of
// its reference price. A yield rate that jumps while the reference barely
// moves is suspicious; the score is recorded as context alongside the
// oracle value and never blocks an update on its own.
type Correlator struct {
	// MaxRatio is how many times larger (in relative terms) the yield move
	// may be than the reference move before the update is flagged.
	MaxRatio decimal.Decimal

	// MinYieldMoveBps is the smallest relative yield move (basis points)
	// worth scoring; smaller moves are always plausible.
	MinYieldMoveBps int64
}

// NewCorrelator creates a correlator with the given tolerance.
func NewCorrelator(maxRatio decimal.Decimal, minYieldMoveBps int64) *Correlator {
	if maxRatio.LessThanOrEqual(decimal.Zero) {
		maxRatio = decimal.NewFromInt(10)
	}
	return &Correlator{MaxRatio: maxRatio, MinYieldMoveBps: minYieldMoveBps}
}

// Plausible compares the relative yield move against the relative
// reference-price move. Returns false when the yield moved far more than
// the reference allows.
func (c *Correlator) Plausible(prevRateBps, newRateBps int64, prevRef, newRef decimal.Decimal) bool {
	if prevRateBps == 0 || prevRef.IsZero() {
		return true // nothing to correlate against
	}

	yieldMove := relMoveBps(prevRateBps, newRateBps)
	if yieldMove < c.MinYieldMoveBps {
		return true
	}

	refMove := newRef.Sub(prevRef).Abs().Div(prevRef.Abs()).Mul(decimal.NewFromInt(10000))
	allowed := refMove.Mul(c.MaxRatio)
	if allowed.LessThan(decimal.NewFromInt(c.MinYieldMoveBps)) {
		allowed = decimal.NewFromInt(c.MinYieldMoveBps)
	}
	return decimal.NewFromInt(yieldMove).LessThanOrEqual(allowed)
}

// relMoveBps is |new-prev|/|prev| in basis points, integer floor.
func relMoveBps(prev, new int64) int64 {
	diff := new - prev
	if diff < 0 {
		diff = -diff
	}
	p := prev
	if p < 0 {
		p = -p
	}
	return diff * 10000 / p
}
