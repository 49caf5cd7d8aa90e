// Package outcome draws the random parameter combination for a new round.
package outcome

import (
	"math/rand/v2"

	"github.com/terminalspin/spin-engine/internal/catalog"
	"github.com/terminalspin/spin-engine/internal/model"
)

// Selector draws round parameters uniformly and independently from the
// static catalogs. It carries no per-round state and may be reused for
// any number of draws.
type Selector struct {
	rng *rand.Rand
}

// New creates a selector with a randomly seeded generator.
func New() *Selector {
	return NewSeeded(rand.Uint64(), rand.Uint64())
}

// NewSeeded creates a selector with a fixed seed, for reproducible tests.
func NewSeeded(seed1, seed2 uint64) *Selector {
	return &Selector{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Draw picks asset, direction, leverage and duration, each uniformly from
// its catalog with no correlation between fields. Stake is not part of the
// draw; the engine fills it in from the player's selection.
func (s *Selector) Draw() model.RoundParams {
	dir := model.Long
	if s.rng.IntN(2) == 1 {
		dir = model.Short
	}
	return model.RoundParams{
		Asset:       catalog.Assets[s.rng.IntN(len(catalog.Assets))],
		Direction:   dir,
		Leverage:    catalog.Multipliers[s.rng.IntN(len(catalog.Multipliers))],
		DurationSec: catalog.Durations[s.rng.IntN(len(catalog.Durations))],
	}
}
