// Package engine implements the round lifecycle state machine: spin →
// progressive reveal → entry countdown → live position → settlement.
//
// All transitions run under one mutex that also guards the balance-mutating
// paths (start-round debit, settlement credit), so a debit can never race a
// credit. Timer callbacks carry the round generation they were scheduled
// for; a callback from a superseded or settled round is a no-op, which is
// what keeps a stray tick from sampling past settlement.
package engine

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/terminalspin/spin-engine/internal/catalog"
	"github.com/terminalspin/spin-engine/internal/ledger"
	"github.com/terminalspin/spin-engine/internal/metrics"
	"github.com/terminalspin/spin-engine/internal/model"
	"github.com/terminalspin/spin-engine/internal/pnl"
)

var (
	// ErrInsufficientBalance rejects a round start with balance below stake.
	ErrInsufficientBalance = errors.New("engine: balance below stake")

	// ErrRoundInProgress rejects a round start while a round is mid-flight.
	ErrRoundInProgress = errors.New("engine: a round is already in progress")

	// ErrFeedOffline rejects an unconfirmed round start while the price feed
	// is disconnected. Nothing is debited; confirming with allowSimulated
	// lets the round run on synthetic pricing.
	ErrFeedOffline = errors.New("engine: price feed offline, simulated mode not confirmed")
)

// PriceSource supplies last-known prices. Implemented by the feed; stubbed
// in tests.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
	Connected() bool
}

// Drawer draws the random parameter combination for a new round.
type Drawer interface {
	Draw() model.RoundParams
}

// Notifier receives a snapshot after every externally visible engine change.
// Pass nil if push updates are not needed.
type Notifier interface {
	EngineUpdated(Snapshot)
}

// revealStages is the number of progressively revealed round parameters:
// asset, direction, leverage, duration.
const revealStages = 4

// Config carries the engine's pacing and retention settings. Zero fields
// are replaced with the matching DefaultConfig values.
type Config struct {
	RevealLeadIn        time.Duration // spin start → first reveal stage
	RevealStageInterval time.Duration // between reveal stages
	RevealSettle        time.Duration // last stage → countdown start
	CountdownStart      int           // countdown ticks before entry lock
	CountdownInterval   time.Duration
	PollInterval        time.Duration // open-position tick period
	FallbackEntryPrice  float64       // entry price when the feed has none
	HistoryCap          int           // max P&L samples kept per position
	SettlementCap       int           // max settlement records retained
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		RevealLeadIn:        800 * time.Millisecond,
		RevealStageInterval: time.Second,
		RevealSettle:        600 * time.Millisecond,
		CountdownStart:      3,
		CountdownInterval:   800 * time.Millisecond,
		PollInterval:        100 * time.Millisecond,
		FallbackEntryPrice:  100,
		HistoryCap:          100,
		SettlementCap:       10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RevealLeadIn <= 0 {
		c.RevealLeadIn = def.RevealLeadIn
	}
	if c.RevealStageInterval <= 0 {
		c.RevealStageInterval = def.RevealStageInterval
	}
	if c.RevealSettle <= 0 {
		c.RevealSettle = def.RevealSettle
	}
	if c.CountdownStart <= 0 {
		c.CountdownStart = def.CountdownStart
	}
	if c.CountdownInterval <= 0 {
		c.CountdownInterval = def.CountdownInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.FallbackEntryPrice <= 0 {
		c.FallbackEntryPrice = def.FallbackEntryPrice
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = def.HistoryCap
	}
	if c.SettlementCap <= 0 {
		c.SettlementCap = def.SettlementCap
	}
	return c
}

// Engine owns one round at a time and the session ledger.
type Engine struct {
	cfg      Config
	prices   PriceSource
	drawer   Drawer
	ledger   *ledger.Ledger
	notifier Notifier
	logger   *slog.Logger

	// injectable for tests
	now      func() time.Time
	walkRand func() float64

	mu          sync.Mutex
	phase       model.Phase
	stake       decimal.Decimal
	round       uint64 // generation counter; bumps on every start and on Close
	params      model.RoundParams
	revealStage int // fields revealed so far, 0..revealStages
	countdown   int
	pos         *model.Position
	timer       *time.Timer // the single pending timer for the active round
}

// New creates an engine. notifier may be nil.
func New(cfg Config, prices PriceSource, drawer Drawer, led *ledger.Ledger, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		prices:   prices,
		drawer:   drawer,
		ledger:   led,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
		walkRand: rand.Float64,
		phase:    model.PhaseIdle,
		stake:    decimal.NewFromInt(10),
	}
}

// SelectStake sets the stake for the next round. Rejected while a round is
// mid-flight and for amounts outside the stake catalog.
func (e *Engine) SelectStake(amount decimal.Decimal) error {
	if err := catalog.ValidateStake(amount); err != nil {
		return err
	}
	e.mu.Lock()
	if !e.acceptsStartLocked() {
		e.mu.Unlock()
		return ErrRoundInProgress
	}
	e.stake = amount
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return nil
}

// StartRound begins a new round with the currently selected stake.
//
// The checks run strictly before the debit: a rejected start mutates
// nothing. When the feed is disconnected the caller must have confirmed
// simulated mode (allowSimulated); declining costs nothing.
func (e *Engine) StartRound(allowSimulated bool) error {
	e.mu.Lock()
	if !e.acceptsStartLocked() {
		e.mu.Unlock()
		metrics.RoundsRejected.WithLabelValues("busy").Inc()
		return ErrRoundInProgress
	}
	if !e.prices.Connected() && !allowSimulated {
		e.mu.Unlock()
		metrics.RoundsRejected.WithLabelValues("feed_offline").Inc()
		return ErrFeedOffline
	}
	if err := e.ledger.Debit(e.stake); err != nil {
		e.mu.Unlock()
		metrics.RoundsRejected.WithLabelValues("insufficient_balance").Inc()
		return ErrInsufficientBalance
	}

	e.round++
	round := e.round
	e.params = e.drawer.Draw()
	e.params.Stake = e.stake
	e.revealStage = 0
	e.countdown = 0
	e.pos = nil
	e.phase = model.PhaseRevealing
	e.scheduleLocked(e.cfg.RevealLeadIn, e.revealTick(round))

	snap := e.snapshotLocked()
	p := e.params
	e.mu.Unlock()

	metrics.RoundsStarted.Inc()
	e.logger.Info("round started",
		slog.Uint64("round", round),
		slog.String("asset", p.Asset.Symbol),
		slog.String("direction", string(p.Direction)),
		slog.Int("leverage", p.Leverage),
		slog.Int("duration_sec", p.DurationSec),
		slog.String("stake", p.Stake.String()),
	)
	e.notify(snap)
	return nil
}

// Close tears down any pending round timers. The ledger survives; the
// engine itself returns to IDLE and accepts new starts only if reused
// deliberately (normal shutdown discards it).
func (e *Engine) Close() {
	e.mu.Lock()
	e.round++ // invalidate in-flight callbacks
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.phase = model.PhaseIdle
	e.pos = nil
	e.mu.Unlock()
}

// acceptsStartLocked reports whether a new round may begin. SETTLED is
// terminal for the position, not the engine: no explicit reset is needed.
func (e *Engine) acceptsStartLocked() bool {
	return e.phase == model.PhaseIdle || e.phase == model.PhaseSettled
}

// scheduleLocked arms the round timer, replacing any pending one.
// Caller holds e.mu.
func (e *Engine) scheduleLocked(d time.Duration, fn func()) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d, fn)
}

// revealTick advances the progressive reveal. Pure presentation pacing: no
// balance or position mutation until the shell is built at the end.
func (e *Engine) revealTick(round uint64) func() {
	return func() {
		e.mu.Lock()
		if e.round != round || e.phase != model.PhaseRevealing {
			e.mu.Unlock()
			return
		}
		e.revealStage++
		if e.revealStage < revealStages {
			e.scheduleLocked(e.cfg.RevealStageInterval, e.revealTick(round))
		} else {
			e.scheduleLocked(e.cfg.RevealSettle, e.beginCountdown(round))
		}
		snap := e.snapshotLocked()
		e.mu.Unlock()

		e.notify(snap)
	}
}

// beginCountdown builds the pending position shell and starts the entry
// countdown. The shell has no entry price yet; history starts at 0 and the
// stop-loss is the fixed full-stake threshold.
func (e *Engine) beginCountdown(round uint64) func() {
	return func() {
		e.mu.Lock()
		if e.round != round || e.phase != model.PhaseRevealing {
			e.mu.Unlock()
			return
		}
		e.pos = &model.Position{
			Params:   e.params,
			StopLoss: pnl.StopLossFraction,
			History:  []float64{0},
		}
		e.countdown = e.cfg.CountdownStart
		e.phase = model.PhaseCountdown
		e.scheduleLocked(e.cfg.CountdownInterval, e.countdownTick(round))
		snap := e.snapshotLocked()
		e.mu.Unlock()

		e.notify(snap)
	}
}

// countdownTick decrements the count. At zero it samples the authoritative
// price and opens the position — the only place an entry price is ever
// stamped.
func (e *Engine) countdownTick(round uint64) func() {
	return func() {
		e.mu.Lock()
		if e.round != round || e.phase != model.PhaseCountdown {
			e.mu.Unlock()
			return
		}
		e.countdown--
		if e.countdown > 0 {
			e.scheduleLocked(e.cfg.CountdownInterval, e.countdownTick(round))
			snap := e.snapshotLocked()
			e.mu.Unlock()
			e.notify(snap)
			return
		}

		entry, live := e.prices.LastPrice(e.params.Asset.Symbol)
		if !live {
			entry = e.cfg.FallbackEntryPrice
		}
		e.pos.EntryPrice = entry
		e.pos.CurrentPrice = entry
		e.pos.StartTime = e.now()
		e.pos.Simulated = !live
		e.pos.Status = "OPEN"
		e.phase = model.PhaseOpen
		e.scheduleLocked(e.cfg.PollInterval, e.openTick(round))

		snap := e.snapshotLocked()
		simulated := e.pos.Simulated
		e.mu.Unlock()

		if simulated {
			metrics.SimulatedRounds.Inc()
		}
		e.logger.Info("position opened",
			slog.Uint64("round", round),
			slog.Float64("entry_price", entry),
			slog.Bool("simulated", simulated),
		)
		e.notify(snap)
	}
}

// openTick is the live P&L loop: sample a price, recompute the fraction,
// and either settle or schedule the next tick. Settlement and timer
// cancellation happen in the same critical section, so no further sample
// can land after the position goes terminal.
func (e *Engine) openTick(round uint64) func() {
	return func() {
		e.mu.Lock()
		if e.round != round || e.phase != model.PhaseOpen {
			e.mu.Unlock()
			return
		}

		pos := e.pos
		price, ok := 0.0, false
		if !pos.Simulated {
			price, ok = e.prices.LastPrice(pos.Params.Asset.Symbol)
		}
		if !ok {
			price = pnl.WalkStep(
				pos.CurrentPrice,
				pos.Params.Asset.BaseVolatility,
				pos.Params.Leverage,
				catalog.ReferenceLeverage(),
				e.walkRand(),
			)
		}

		live := pnl.Fraction(pos.EntryPrice, price, pos.Params.Leverage, pos.Params.Direction)
		elapsed := e.now().Sub(pos.StartTime).Seconds()

		// Stop-loss takes priority over expiry when both hold at once.
		var reason model.CloseReason
		switch {
		case live <= pos.StopLoss:
			reason = model.CloseStopLoss
		case elapsed >= float64(pos.Params.DurationSec):
			reason = model.CloseTimeExpiry
		}

		if reason == "" {
			pos.CurrentPrice = price
			pos.Pnl = live
			pos.History = appendSample(pos.History, live, e.cfg.HistoryCap)
			e.scheduleLocked(e.cfg.PollInterval, e.openTick(round))
			snap := e.snapshotLocked()
			e.mu.Unlock()
			e.notify(snap)
			return
		}

		e.timer = nil // this callback was the pending timer; nothing follows
		final := pnl.Clamp(live)
		payout := pnl.Payout(pos.Params.Stake, live)
		pos.CurrentPrice = price
		pos.Pnl = final
		pos.History = appendSample(pos.History, final, e.cfg.HistoryCap)
		pos.Status = string(reason)
		e.phase = model.PhaseSettled

		rec := model.SettlementRecord{
			ID:          uuid.New().String(),
			Symbol:      pos.Params.Asset.Symbol,
			Direction:   pos.Params.Direction,
			Leverage:    pos.Params.Leverage,
			DurationSec: pos.Params.DurationSec,
			Stake:       pos.Params.Stake,
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   price,
			FinalPnl:    final,
			Payout:      payout,
			CloseReason: reason,
			Simulated:   pos.Simulated,
			ClosedAt:    e.now(),
		}
		if err := e.ledger.Credit(payout); err != nil {
			// Cannot happen for a clamped payout; keep the round settling.
			e.logger.Error("settlement credit failed", slog.String("err", err.Error()))
		}
		e.ledger.RecordSettlement(rec)

		snap := e.snapshotLocked()
		e.mu.Unlock()

		metrics.RoundsSettled.WithLabelValues(string(reason)).Inc()
		metrics.FinalPnl.Observe(final)
		e.logger.Info("round settled",
			slog.Uint64("round", round),
			slog.String("reason", string(reason)),
			slog.Float64("final_pnl", final),
			slog.String("payout", payout.String()),
			slog.String("settlement_id", rec.ID),
		)
		e.notify(snap)
	}
}

func (e *Engine) notify(snap Snapshot) {
	if e.notifier != nil {
		e.notifier.EngineUpdated(snap)
	}
}

// appendSample appends v and drops the oldest samples beyond cap.
func appendSample(samples []float64, v float64, cap int) []float64 {
	samples = append(samples, v)
	if len(samples) > cap {
		samples = samples[len(samples)-cap:]
	}
	return samples
}
