package engine

import (
	"github.com/shopspring/decimal"

	"github.com/terminalspin/spin-engine/internal/model"
)

// RevealView is the partially masked round parameter set shown during the
// reveal sequence. Fields are nil until their stage has fired; by the
// countdown all four are populated.
type RevealView struct {
	Asset       *model.Asset     `json:"asset,omitempty"`
	Direction   *model.Direction `json:"direction,omitempty"`
	Leverage    *int             `json:"leverage,omitempty"`
	DurationSec *int             `json:"duration_sec,omitempty"`
}

// Snapshot is a point-in-time view of the engine, safe to serialize and
// hand to other goroutines. Reveal, Countdown and Position are populated
// per phase; the rest is always present.
type Snapshot struct {
	Phase         model.Phase     `json:"phase"`
	Balance       decimal.Decimal `json:"balance"`
	Stake         decimal.Decimal `json:"stake"`
	FeedConnected bool            `json:"feed_connected"`
	Reveal        *RevealView     `json:"reveal,omitempty"`
	Countdown     *int            `json:"countdown,omitempty"`
	Position      *model.Position `json:"position,omitempty"`
	RemainingSec  *float64        `json:"remaining_sec,omitempty"`
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:         e.phase,
		Balance:       e.ledger.Balance(),
		Stake:         e.stake,
		FeedConnected: e.prices.Connected(),
	}

	switch e.phase {
	case model.PhaseRevealing:
		snap.Reveal = e.revealViewLocked(e.revealStage)
	case model.PhaseCountdown:
		snap.Reveal = e.revealViewLocked(revealStages)
		c := e.countdown
		snap.Countdown = &c
	case model.PhaseOpen, model.PhaseSettled:
		pos := *e.pos
		pos.History = append([]float64(nil), e.pos.History...)
		snap.Position = &pos
		if e.phase == model.PhaseOpen {
			remaining := float64(pos.Params.DurationSec) - e.now().Sub(pos.StartTime).Seconds()
			if remaining < 0 {
				remaining = 0
			}
			snap.RemainingSec = &remaining
		}
	}
	return snap
}

// revealViewLocked masks round parameters beyond the given stage. Reveal
// order is fixed: asset, direction, leverage, duration.
func (e *Engine) revealViewLocked(stage int) *RevealView {
	view := &RevealView{}
	if stage >= 1 {
		a := e.params.Asset
		view.Asset = &a
	}
	if stage >= 2 {
		d := e.params.Direction
		view.Direction = &d
	}
	if stage >= 3 {
		l := e.params.Leverage
		view.Leverage = &l
	}
	if stage >= 4 {
		dur := e.params.DurationSec
		view.DurationSec = &dur
	}
	return view
}
