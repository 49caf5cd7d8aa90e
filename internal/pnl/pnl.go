// Package pnl implements the numeric core of a leveraged round: the P&L
// fraction formula, loss clamping, payout computation and the simulated
// price walk used when no live feed price is available.
//
// Prices and P&L fractions are float64; the payout boundary converts to
// shopspring/decimal so the ledger never sees float money.
package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/terminalspin/spin-engine/internal/model"
)

const (
	// StopLossFraction is the fixed liquidation threshold: -100% of stake.
	// Every position carries it; there is no take-profit.
	StopLossFraction = -1.0

	// MinSimulatedPrice floors the random walk. The walk has no natural
	// bound, so without this a long unlucky streak can drive the synthetic
	// price to zero or below and poison the P&L formula.
	MinSimulatedPrice = 0.0001
)

// Fraction computes the live P&L fraction of a position:
//
//	((current - entry) / entry) * leverage * dirSign
//
// entry must be positive; rounds are constructed so it always is.
func Fraction(entry, current float64, leverage int, dir model.Direction) float64 {
	priceChange := (current - entry) / entry
	return priceChange * float64(leverage) * dir.Sign()
}

// Clamp bounds a final P&L fraction to the closed interval [-1, +inf),
// guaranteeing a non-negative payout.
func Clamp(fraction float64) float64 {
	if fraction < StopLossFraction {
		return StopLossFraction
	}
	return fraction
}

// Payout converts a final P&L fraction into the amount credited back:
// stake * (1 + fraction). The fraction is clamped first, so the result is
// never negative.
func Payout(stake decimal.Decimal, fraction float64) decimal.Decimal {
	f := decimal.NewFromFloat(Clamp(fraction))
	return stake.Mul(decimal.NewFromInt(1).Add(f))
}

// WalkStep advances a simulated price by one tick of a bounded random walk.
// r must be uniform in [0, 1). The step size scales with the asset's base
// volatility and with leverage relative to the reference (smallest catalog)
// leverage, keeping simulated volatility roughly proportional to risk.
func WalkStep(current, baseVolatility float64, leverage, referenceLeverage int, r float64) float64 {
	volatility := baseVolatility * (float64(leverage) / float64(referenceLeverage))
	change := (r - 0.5) * volatility
	next := current * (1 + change)
	if next < MinSimulatedPrice {
		next = MinSimulatedPrice
	}
	return next
}
