package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/oddstream/internal/schema"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func level(price, liquidity string) schema.PriceLevel {
	return schema.PriceLevel{
		Side:      schema.SideAgainst,
		OutcomeID: "out-1",
		Price:     dec(price),
		Liquidity: dec(liquidity),
	}
}

func TestApplyDeltaInsertsAndSortsDescending(t *testing.T) {
	books := New()
	slots := map[string]int{"out-1": 0, "out-2": 1}

	snap := books.ApplyDelta(42, schema.FamilyTotals, slots, []schema.PriceLevel{
		level("2.1", "50"),
		level("2.5", "100"),
		level("2.3", "75"),
	})

	levels := snap["out-1"]
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	for i := 1; i < len(levels); i++ {
		if !levels[i-1].Price.GreaterThan(levels[i].Price) {
			t.Fatalf("levels not sorted descending: %v", levels)
		}
	}
	best, ok := snap.Best("out-1")
	if !ok || !best.Price.Equal(dec("2.5")) {
		t.Fatalf("unexpected best level: %+v", best)
	}
}

func TestApplyDeltaReplacesAndRemovesLevels(t *testing.T) {
	books := New()
	slots := map[string]int{"out-1": 0}

	books.ApplyDelta(42, schema.FamilyTotals, slots, []schema.PriceLevel{
		level("2.5", "100"),
		level("2.3", "75"),
	})

	// Replace liquidity at an existing price.
	snap := books.ApplyDelta(42, schema.FamilyTotals, slots, []schema.PriceLevel{level("2.5", "40")})
	best, _ := snap.Best("out-1")
	if !best.Liquidity.Equal(dec("40")) {
		t.Fatalf("liquidity should be replaced, got %s", best.Liquidity)
	}

	// Zero liquidity removes the level.
	snap = books.ApplyDelta(42, schema.FamilyTotals, slots, []schema.PriceLevel{level("2.5", "0")})
	best, _ = snap.Best("out-1")
	if !best.Price.Equal(dec("2.3")) {
		t.Fatalf("expected 2.3 after removal, got %s", best.Price)
	}

	// Zero liquidity for an unknown price is a no-op.
	snap = books.ApplyDelta(42, schema.FamilyTotals, slots, []schema.PriceLevel{level("9.9", "0")})
	if len(snap["out-1"]) != 1 {
		t.Fatalf("unknown zero-liquidity delta should not change ladder: %v", snap["out-1"])
	}
}

func TestApplyDeltaIgnoresBackSide(t *testing.T) {
	books := New()
	snap := books.ApplyDelta(42, schema.FamilyMatchResult, map[string]int{"out-1": 0}, []schema.PriceLevel{
		{Side: schema.SideFor, OutcomeID: "out-1", Price: dec("3.0"), Liquidity: dec("500")},
	})
	if len(snap["out-1"]) != 0 {
		t.Fatalf("back side prices must be ignored, got %v", snap["out-1"])
	}
}

func TestResetKeepsOutcomesWithEmptyLadders(t *testing.T) {
	books := New()
	slots := map[string]int{"out-1": 0, "out-2": 1}
	books.ApplyDelta(42, schema.FamilyHandicap, slots, []schema.PriceLevel{level("1.9", "25")})

	snap := books.Reset(42, schema.FamilyHandicap, slots)
	if len(snap) != 2 {
		t.Fatalf("reset should keep outcome keys, got %v", snap)
	}
	for outcomeID, levels := range snap {
		if len(levels) != 0 {
			t.Fatalf("outcome %s should be empty after reset: %v", outcomeID, levels)
		}
	}
}

func TestPrimeAggregatesDiscoveryLiquidity(t *testing.T) {
	books := New()
	markets := []schema.Market{{
		ID:         "mk-1",
		Name:       "Total Goals Over/Under 2.5",
		MarketType: schema.Reference{IDs: []string{schema.MarketTypeOverUnder}},
		Prices: []schema.PriceLevel{
			{Side: schema.SideAgainst, OutcomeID: "out-1", Price: dec("2.5"), Liquidity: dec("60")},
			{Side: schema.SideAgainst, OutcomeID: "out-1", Price: dec("2.5"), Liquidity: dec("40")},
			{Side: schema.SideFor, OutcomeID: "out-1", Price: dec("2.4"), Liquidity: dec("999")},
		},
	}}

	books.Prime(42, markets)
	snap, ok := books.Snapshot(42, schema.FamilyTotals)
	if !ok {
		t.Fatal("expected primed book")
	}
	best, _ := snap.Best("out-1")
	if !best.Liquidity.Equal(dec("100")) {
		t.Fatalf("liquidity should aggregate to 100, got %s", best.Liquidity)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	books := New()
	slots := map[string]int{"out-1": 0}
	snap := books.ApplyDelta(42, schema.FamilyTotals, slots, []schema.PriceLevel{level("2.5", "100")})
	snap["out-1"][0].Liquidity = dec("1")

	fresh, _ := books.Snapshot(42, schema.FamilyTotals)
	best, _ := fresh.Best("out-1")
	if !best.Liquidity.Equal(dec("100")) {
		t.Fatal("mutating a snapshot must not affect the live book")
	}
}

func TestRemoveAndClear(t *testing.T) {
	books := New()
	slots := map[string]int{"out-1": 0}
	books.ApplyDelta(1, schema.FamilyTotals, slots, []schema.PriceLevel{level("2.5", "10")})
	books.ApplyDelta(2, schema.FamilyTotals, slots, []schema.PriceLevel{level("2.5", "10")})

	books.Remove(1, schema.FamilyTotals)
	if _, ok := books.Snapshot(1, schema.FamilyTotals); ok {
		t.Fatal("removed book should be absent")
	}
	books.Clear()
	if _, ok := books.Snapshot(2, schema.FamilyTotals); ok {
		t.Fatal("cleared book should be absent")
	}
}
