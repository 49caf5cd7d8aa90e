package catalog_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/terminalspin/spin-engine/internal/catalog"
)

func TestCatalogIntegrity(t *testing.T) {
	if len(catalog.Assets) == 0 {
		t.Fatal("asset catalog must not be empty")
	}
	for _, a := range catalog.Assets {
		if a.BaseVolatility <= 0 {
			t.Errorf("asset %s has non-positive volatility %v", a.Symbol, a.BaseVolatility)
		}
		if _, ok := catalog.FeedIDs[a.Symbol]; !ok {
			t.Errorf("asset %s has no feed id mapping", a.Symbol)
		}
	}
	for _, m := range catalog.Multipliers {
		if m <= 0 {
			t.Errorf("non-positive multiplier %d", m)
		}
	}
	for _, d := range catalog.Durations {
		if d <= 0 {
			t.Errorf("non-positive duration %d", d)
		}
	}
}

func TestReferenceLeverage(t *testing.T) {
	ref := catalog.ReferenceLeverage()
	if ref != 10 {
		t.Errorf("expected reference leverage 10, got %d", ref)
	}
	for _, m := range catalog.Multipliers {
		if m < ref {
			t.Errorf("multiplier %d below reference %d", m, ref)
		}
	}
}

func TestAssetBySymbol(t *testing.T) {
	a, err := catalog.AssetBySymbol("BTC")
	if err != nil {
		t.Fatalf("BTC lookup failed: %v", err)
	}
	if a.Name != "Bitcoin" {
		t.Errorf("unexpected name %q", a.Name)
	}

	_, err = catalog.AssetBySymbol("DOGE")
	if !errors.Is(err, catalog.ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestSymbolByFeedID(t *testing.T) {
	for sym, id := range catalog.FeedIDs {
		got, ok := catalog.SymbolByFeedID(id)
		if !ok || got != sym {
			t.Errorf("feed id for %s resolved to %q (ok=%v)", sym, got, ok)
		}
	}
	if _, ok := catalog.SymbolByFeedID("deadbeef"); ok {
		t.Error("unknown feed id should not resolve")
	}
}

func TestValidateStake(t *testing.T) {
	if err := catalog.ValidateStake(decimal.NewFromInt(25)); err != nil {
		t.Errorf("25 should be a valid stake: %v", err)
	}
	err := catalog.ValidateStake(decimal.NewFromInt(7))
	if !errors.Is(err, catalog.ErrInvalidStake) {
		t.Errorf("expected ErrInvalidStake, got %v", err)
	}
}
