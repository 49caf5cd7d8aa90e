package outcome_test

import (
	"testing"

	"github.com/terminalspin/spin-engine/internal/catalog"
	"github.com/terminalspin/spin-engine/internal/model"
	"github.com/terminalspin/spin-engine/internal/outcome"
)

func TestDraw_WithinCatalogs(t *testing.T) {
	s := outcome.NewSeeded(1, 2)

	multipliers := make(map[int]bool)
	for _, m := range catalog.Multipliers {
		multipliers[m] = true
	}
	durations := make(map[int]bool)
	for _, d := range catalog.Durations {
		durations[d] = true
	}

	for i := 0; i < 500; i++ {
		p := s.Draw()
		if _, err := catalog.AssetBySymbol(p.Asset.Symbol); err != nil {
			t.Fatalf("draw %d: asset %q not in catalog", i, p.Asset.Symbol)
		}
		if p.Direction != model.Long && p.Direction != model.Short {
			t.Fatalf("draw %d: bad direction %q", i, p.Direction)
		}
		if !multipliers[p.Leverage] {
			t.Fatalf("draw %d: leverage %d not in catalog", i, p.Leverage)
		}
		if !durations[p.DurationSec] {
			t.Fatalf("draw %d: duration %d not in catalog", i, p.DurationSec)
		}
	}
}

func TestDraw_CoversAllValues(t *testing.T) {
	// With enough draws every catalog entry should come up; a field stuck
	// on one value means the draw is not uniform over its catalog.
	s := outcome.NewSeeded(7, 7)

	assets := make(map[string]bool)
	dirs := make(map[model.Direction]bool)
	multipliers := make(map[int]bool)
	durations := make(map[int]bool)

	for i := 0; i < 2000; i++ {
		p := s.Draw()
		assets[p.Asset.Symbol] = true
		dirs[p.Direction] = true
		multipliers[p.Leverage] = true
		durations[p.DurationSec] = true
	}

	if len(assets) != len(catalog.Assets) {
		t.Errorf("saw %d assets, want %d", len(assets), len(catalog.Assets))
	}
	if len(dirs) != 2 {
		t.Errorf("saw %d directions, want 2", len(dirs))
	}
	if len(multipliers) != len(catalog.Multipliers) {
		t.Errorf("saw %d multipliers, want %d", len(multipliers), len(catalog.Multipliers))
	}
	if len(durations) != len(catalog.Durations) {
		t.Errorf("saw %d durations, want %d", len(durations), len(catalog.Durations))
	}
}
