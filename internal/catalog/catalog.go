// Package catalog holds the static round catalogs — tradable assets, allowed
// leverage multipliers, durations and stake amounts — and the mapping from
// asset symbols to upstream Pyth Hermes price feed identifiers.
//
// Everything here is process-wide static and immutable.
package catalog

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/terminalspin/spin-engine/internal/model"
)

var (
	// ErrUnknownSymbol is returned when a symbol is not in the asset catalog.
	ErrUnknownSymbol = errors.New("catalog: unknown asset symbol")

	// ErrInvalidStake is returned when a stake amount is not in the stake catalog.
	ErrInvalidStake = errors.New("catalog: stake amount not in catalog")
)

// Assets is the fixed tradable catalog. BaseVolatility scales simulated
// price generation only.
var Assets = []model.Asset{
	{Symbol: "BTC", Name: "Bitcoin", BaseVolatility: 0.15},
	{Symbol: "ETH", Name: "Ethereum", BaseVolatility: 0.25},
	{Symbol: "SOL", Name: "Solana", BaseVolatility: 0.45},
}

// Multipliers are the allowed leverage multipliers. The smallest entry is the
// reference leverage for simulated-volatility scaling.
var Multipliers = []int{10, 25, 50, 100, 150, 200, 250}

// Durations are the allowed round durations in seconds.
var Durations = []int{5, 10, 15, 20, 25, 30, 35, 40, 45}

// Stakes are the selectable stake amounts.
var Stakes = []int64{5, 10, 25, 50, 100}

// FeedIDs maps asset symbols to Pyth Hermes price feed identifiers.
var FeedIDs = map[string]string{
	"BTC": "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
	"ETH": "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
	"SOL": "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
}

// ReferenceLeverage returns the smallest catalog multiplier.
func ReferenceLeverage() int {
	ref := Multipliers[0]
	for _, m := range Multipliers[1:] {
		if m < ref {
			ref = m
		}
	}
	return ref
}

// AssetBySymbol looks up a catalog asset by symbol.
func AssetBySymbol(symbol string) (model.Asset, error) {
	for _, a := range Assets {
		if a.Symbol == symbol {
			return a, nil
		}
	}
	return model.Asset{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// SymbolByFeedID resolves an upstream feed identifier back to its symbol.
func SymbolByFeedID(id string) (string, bool) {
	for sym, feedID := range FeedIDs {
		if feedID == id {
			return sym, true
		}
	}
	return "", false
}

// ValidateStake checks that amount is one of the selectable stakes.
func ValidateStake(amount decimal.Decimal) error {
	for _, s := range Stakes {
		if amount.Equal(decimal.NewFromInt(s)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidStake, amount)
}
