// Package model defines the core domain types shared across the spin engine.
// Monetary values (balance, stake, payout) use shopspring/decimal — never
// float64 for money. Prices and P&L fractions are float64: they feed the
// simulated random walk and the leverage formula, not the books.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a leveraged position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Phase is the engine's round lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseRevealing Phase = "REVEALING"
	PhaseCountdown Phase = "COUNTDOWN"
	PhaseOpen      Phase = "OPEN"
	PhaseSettled   Phase = "SETTLED"
)

// CloseReason records why a position settled.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTimeExpiry CloseReason = "TIME_EXPIRY"
)

// Asset is an entry in the static tradable catalog. BaseVolatility is used
// only to scale simulated price generation.
type Asset struct {
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	BaseVolatility float64 `json:"base_volatility"`
}

// RoundParams is the randomly drawn parameter set for one round. Chosen once
// at spin time, immutable thereafter.
type RoundParams struct {
	Asset       Asset           `json:"asset"`
	Direction   Direction       `json:"direction"`
	Leverage    int             `json:"leverage"`
	DurationSec int             `json:"duration_sec"`
	Stake       decimal.Decimal `json:"stake"`
}

// Position is the live (or just-settled) trade tracked during a round.
//
// EntryPrice is stamped exactly once, when the countdown reaches zero.
// Status is "OPEN" while live and becomes the close reason on settlement,
// after which the position never changes again. History holds P&L fraction
// samples, always starting at 0, bounded with FIFO eviction.
type Position struct {
	Params       RoundParams `json:"params"`
	EntryPrice   float64     `json:"entry_price"`
	CurrentPrice float64     `json:"current_price"`
	StartTime    time.Time   `json:"start_time"`
	Status       string      `json:"status"` // "OPEN", "STOP_LOSS", "TIME_EXPIRY"
	Pnl          float64     `json:"pnl"`    // live P&L fraction, leverage applied
	StopLoss     float64     `json:"stop_loss"`
	Simulated    bool        `json:"simulated"`
	History      []float64   `json:"history"`
}

// SettlementRecord is the immutable snapshot of a settled round.
// Once created these are never modified; the ledger keeps a bounded,
// most-recent-first window of them.
type SettlementRecord struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	Leverage    int             `json:"leverage"`
	DurationSec int             `json:"duration_sec"`
	Stake       decimal.Decimal `json:"stake"`
	EntryPrice  float64         `json:"entry_price"`
	ExitPrice   float64         `json:"exit_price"`
	FinalPnl    float64         `json:"final_pnl"` // clamped to >= -1.0
	Payout      decimal.Decimal `json:"payout"`
	CloseReason CloseReason     `json:"close_reason"`
	Simulated   bool            `json:"simulated"`
	ClosedAt    time.Time       `json:"closed_at"`
}
