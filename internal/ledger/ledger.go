// Package ledger tracks the session balance and a bounded window of
// settlement records. State is session-local and in-memory by design.
package ledger

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/terminalspin/spin-engine/internal/model"
)

var (
	// ErrNegativeAmount is returned when a debit or credit amount is negative.
	ErrNegativeAmount = errors.New("ledger: amount must not be negative")

	// ErrBalanceUnderflow is returned when a debit would drive the balance
	// below zero. The engine gates round starts on balance >= stake, so this
	// only fires if a caller bypasses that check.
	ErrBalanceUnderflow = errors.New("ledger: debit exceeds balance")
)

// Ledger holds the balance and the most-recent-first settlement history.
// A single mutex serializes the debit and credit paths together with
// history insertion, so a round-start debit can never race a settlement
// credit into a lost update.
type Ledger struct {
	mu         sync.Mutex
	balance    decimal.Decimal
	history    []model.SettlementRecord
	historyCap int
}

// New creates a ledger with the given starting balance and history capacity.
func New(startingBalance decimal.Decimal, historyCap int) *Ledger {
	if historyCap < 1 {
		historyCap = 1
	}
	return &Ledger{
		balance:    startingBalance,
		historyCap: historyCap,
	}
}

// Balance returns the current balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Debit subtracts amount from the balance. The balance never goes negative.
func (l *Ledger) Debit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.GreaterThan(l.balance) {
		return ErrBalanceUnderflow
	}
	l.balance = l.balance.Sub(amount)
	return nil
}

// Credit adds amount to the balance.
func (l *Ledger) Credit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
	return nil
}

// RecordSettlement prepends an immutable settlement record. Once the window
// is full the oldest record is evicted.
func (l *Ledger) RecordSettlement(rec model.SettlementRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append([]model.SettlementRecord{rec}, l.history...)
	if len(l.history) > l.historyCap {
		l.history = l.history[:l.historyCap]
	}
}

// Settlements returns a copy of the history, most recent first.
func (l *Ledger) Settlements() []model.SettlementRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.SettlementRecord, len(l.history))
	copy(out, l.history)
	return out
}
