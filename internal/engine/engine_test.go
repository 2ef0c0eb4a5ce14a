package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/oddstream/config"
	"github.com/coachpo/oddstream/internal/batch"
	"github.com/coachpo/oddstream/internal/catalog"
	"github.com/coachpo/oddstream/internal/persistence"
	"github.com/coachpo/oddstream/internal/schema"
)

type staticResolver struct {
	fixtures map[string]int64
}

func (r staticResolver) ResolveFixture(_ context.Context, event schema.VenueEvent) (int64, bool, error) {
	id, ok := r.fixtures[event.ID]
	return id, ok, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discoveryPage() schema.MarketsPage {
	return schema.MarketsPage{
		Events: []schema.VenueEvent{{
			ID:                "ev-1",
			Name:              "Arsenal v Chelsea",
			ExpectedStartTime: "2026-03-07T15:00:00Z",
			EventGroup:        schema.Reference{IDs: []string{"grp-epl"}},
		}},
		Markets: []schema.Market{
			{
				ID:             "mk-x12",
				Name:           "Full Time Result",
				MarketType:     schema.Reference{IDs: []string{schema.MarketTypeFullTimeResult}},
				Event:          schema.Reference{IDs: []string{"ev-1"}},
				MarketOutcomes: schema.Reference{IDs: []string{"out-h", "out-a", "out-d"}},
				Status:         schema.StatusOpen,
			},
			{
				ID:             "mk-ou",
				Name:           "Total Goals Over/Under 2.5",
				MarketType:     schema.Reference{IDs: []string{schema.MarketTypeOverUnder}},
				Event:          schema.Reference{IDs: []string{"ev-1"}},
				MarketOutcomes: schema.Reference{IDs: []string{"out-over", "out-under"}},
				Status:         schema.StatusOpen,
			},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *persistence.MemoryStore) {
	t.Helper()
	cfg := config.Default()
	store := persistence.NewMemoryStore()
	e := New(cfg, store, staticResolver{fixtures: map[string]int64{"ev-1": 42}}, nil)
	t.Cleanup(func() {
		_ = e.seq.Shutdown(context.Background())
		e.cancel()
	})

	snapshot, err := catalog.Build(context.Background(), 1, discoveryPage(),
		staticResolver{fixtures: map[string]int64{"ev-1": 42}})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	e.catalogs.Publish(snapshot)
	e.onCatalogPublish(snapshot)
	waitForRow(t, store, 42)
	return e, store
}

func waitForRow(t *testing.T, store *persistence.MemoryStore, fixtureID int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, _, _, _, ok := store.Row(fixtureID); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("fixture %d never seeded", fixtureID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForOdds(t *testing.T, store *persistence.MemoryStore, fixtureID int64, family schema.MarketFamily, want int) []persistence.OddsEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		odds, _, _, _, _, _ := store.Row(fixtureID)
		if len(odds[family]) >= want {
			return odds[family]
		}
		if time.Now().After(deadline) {
			t.Fatalf("fixture %d %s history = %d entries, want %d", fixtureID, family, len(odds[family]), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPriceUpdateFlowsToStore(t *testing.T) {
	e, store := newTestEngine(t)

	e.applyPrice(schema.MarketPriceUpdate{
		EventID:  "ev-1",
		MarketID: "mk-x12",
		Prices: []schema.PriceLevel{
			{Side: schema.SideAgainst, OutcomeID: "out-h", Price: dec("2.50"), Liquidity: dec("120")},
			{Side: schema.SideFor, OutcomeID: "out-a", Price: dec("3.00"), Liquidity: dec("999")},
		},
	})

	entries := waitForOdds(t, store, 42, schema.FamilyMatchResult, 1)
	latest := entries[len(entries)-1]
	if latest.X12[0] != 2485 {
		t.Fatalf("X12[0] = %d, want 2485", latest.X12[0])
	}
	if latest.X12[1] != 0 {
		t.Fatalf("X12[1] = %d, want 0 for back-side only outcome", latest.X12[1])
	}
}

func TestStatusUpdateZeroesBook(t *testing.T) {
	e, store := newTestEngine(t)

	e.applyPrice(schema.MarketPriceUpdate{
		EventID:  "ev-1",
		MarketID: "mk-x12",
		Prices: []schema.PriceLevel{
			{Side: schema.SideAgainst, OutcomeID: "out-h", Price: dec("2.50"), Liquidity: dec("120")},
		},
	})
	waitForOdds(t, store, 42, schema.FamilyMatchResult, 1)

	e.applyStatus(schema.MarketStatusUpdate{
		EventID:      "ev-1",
		MarketID:     "mk-x12",
		Status:       schema.StatusLocked,
		InPlayStatus: schema.InPlayPrePlay,
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		odds, _, _, _, _, _ := store.Row(42)
		entries := odds[schema.FamilyMatchResult]
		if len(entries) > 0 && entries[len(entries)-1].X12[0] == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("book never zeroed: %+v", entries)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenPrePlayStatusIsNoOp(t *testing.T) {
	e, store := newTestEngine(t)

	e.applyStatus(schema.MarketStatusUpdate{
		EventID:      "ev-1",
		MarketID:     "mk-x12",
		Status:       schema.StatusOpen,
		InPlayStatus: schema.InPlayPrePlay,
	})

	time.Sleep(50 * time.Millisecond)
	odds, _, _, _, _, _ := store.Row(42)
	if len(odds[schema.FamilyMatchResult]) != 0 {
		t.Fatalf("open pre-play status wrote odds: %+v", odds[schema.FamilyMatchResult])
	}
}

func TestUnmappedUpdateIsDropped(t *testing.T) {
	e, store := newTestEngine(t)

	e.applyPrice(schema.MarketPriceUpdate{
		EventID:  "ev-unknown",
		MarketID: "mk-unknown",
		Prices: []schema.PriceLevel{
			{Side: schema.SideAgainst, OutcomeID: "out-x", Price: dec("2.0"), Liquidity: dec("10")},
		},
	})

	time.Sleep(50 * time.Millisecond)
	odds, _, _, _, _, _ := store.Row(42)
	for family, entries := range odds {
		if len(entries) != 0 {
			t.Fatalf("unmapped update wrote %s odds: %+v", family, entries)
		}
	}
}

func TestUnresolvedEventUpdatesAreNotPersisted(t *testing.T) {
	e, store := newTestEngine(t)

	page := discoveryPage()
	page.Events = append(page.Events, schema.VenueEvent{
		ID:                "ev-2",
		Name:              "Lyon v Metz",
		ExpectedStartTime: "2026-03-08T15:00:00Z",
		EventGroup:        schema.Reference{IDs: []string{"grp-ligue1"}},
	})
	page.Markets = append(page.Markets, schema.Market{
		ID:             "mk-x12-2",
		Name:           "Full Time Result",
		MarketType:     schema.Reference{IDs: []string{schema.MarketTypeFullTimeResult}},
		Event:          schema.Reference{IDs: []string{"ev-2"}},
		MarketOutcomes: schema.Reference{IDs: []string{"out-h2", "out-a2", "out-d2"}},
		Status:         schema.StatusOpen,
	})
	snapshot, err := catalog.Build(context.Background(), 2, page,
		staticResolver{fixtures: map[string]int64{"ev-1": 42}})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	e.catalogs.Publish(snapshot)
	e.onCatalogPublish(snapshot)

	// The unresolved event stays subscribed, so the frame passes the
	// inbound filter, but nothing may reach the store for fixture 0.
	if !snapshot.Subscribed("ev-2", "mk-x12-2") {
		t.Fatal("unresolved market should remain in the subscription set")
	}
	e.applyPrice(schema.MarketPriceUpdate{
		EventID:  "ev-2",
		MarketID: "mk-x12-2",
		Prices: []schema.PriceLevel{
			{Side: schema.SideAgainst, OutcomeID: "out-h2", Price: dec("2.50"), Liquidity: dec("30")},
		},
	})

	time.Sleep(50 * time.Millisecond)
	if _, _, _, _, _, ok := store.Row(0); ok {
		t.Fatal("update without a fixture must not write a record")
	}
}

func TestHandleFrameDropsUnsubscribedPairs(t *testing.T) {
	e, store := newTestEngine(t)

	e.handleFrame(schema.MarketPriceUpdate{
		EventID:  "ev-unknown",
		MarketID: "mk-x12",
		Prices: []schema.PriceLevel{
			{Side: schema.SideAgainst, OutcomeID: "out-h", Price: dec("2.50"), Liquidity: dec("40")},
		},
	})
	e.handleFrame(schema.MarketPriceUpdate{
		EventID:  "ev-1",
		MarketID: "mk-x12",
		Prices: []schema.PriceLevel{
			{Side: schema.SideAgainst, OutcomeID: "out-h", Price: dec("2.00"), Liquidity: dec("60")},
		},
	})

	entries := waitForOdds(t, store, 42, schema.FamilyMatchResult, 1)
	if len(entries) != 1 {
		t.Fatalf("history = %d entries, want 1", len(entries))
	}
	if entries[0].X12[0] != 1990 {
		t.Fatalf("X12[0] = %d, want 1990 from the subscribed frame only", entries[0].X12[0])
	}
}

func TestFlushPartitionsPricesBeforeStatuses(t *testing.T) {
	e, store := newTestEngine(t)

	e.flush(batch.Batch{
		Prices: []schema.MarketPriceUpdate{{
			EventID:  "ev-1",
			MarketID: "mk-ou",
			Prices: []schema.PriceLevel{
				{Side: schema.SideAgainst, OutcomeID: "out-over", Price: dec("1.90"), Liquidity: dec("80")},
			},
		}},
		Statuses: []schema.MarketStatusUpdate{{
			EventID:      "ev-1",
			MarketID:     "mk-ou",
			Status:       schema.StatusOpen,
			InPlayStatus: schema.InPlayLive,
		}},
	})

	entries := waitForOdds(t, store, 42, schema.FamilyTotals, 1)
	latest := entries[len(entries)-1]
	if latest.OUO[0] != 0 {
		t.Fatalf("OUO[0] = %d, want 0 after in-play zeroing", latest.OUO[0])
	}
}
