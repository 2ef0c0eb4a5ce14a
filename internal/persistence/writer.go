package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/coachpo/oddstream/internal/orderbook"
	"github.com/coachpo/oddstream/internal/schema"
)

// FamilyState is the slice of football_odds columns needed to fold a new
// best-price sample into one family's history.
type FamilyState struct {
	Odds      []OddsEntry
	Lines     []LinesEntry
	MaxStakes []MaxStakesEntry
	LatestT   map[string]int64
}

// Store abstracts the football_odds row operations the writer needs. The
// postgres implementation lives in the postgres subpackage; memory.go carries
// an in-process double.
type Store interface {
	// FamilyState loads one family's odds history alongside the shared
	// lines, max_stakes, and latest_t columns. It returns (nil, nil) when
	// the fixture has no row yet.
	FamilyState(ctx context.Context, fixtureID int64, family schema.MarketFamily) (*FamilyState, error)
	// SaveFamilyState writes back the family's odds column together with
	// max_stakes and latest_t.
	SaveFamilyState(ctx context.Context, fixtureID int64, family schema.MarketFamily, odds []OddsEntry, maxStakes []MaxStakesEntry, latestT map[string]int64) error
	// UpsertFixtureRecord inserts the fixture row, or refreshes its lines,
	// ids, and max_stakes columns when it already exists.
	UpsertFixtureRecord(ctx context.Context, fixtureID int64, record FixtureRecord) error
}

// Writer folds order book snapshots into per-fixture odds history rows.
type Writer struct {
	store Store
	now   func() time.Time
}

// NewWriter builds a writer over the given store.
func NewWriter(store Store) *Writer {
	return &Writer{store: store, now: time.Now}
}

// EnsureFixtureRecord seeds the fixture's row from its discovered markets.
// Called on every catalog publish so line and identifier columns track the
// venue's current offering.
func (w *Writer) EnsureFixtureRecord(ctx context.Context, fixtureID int64, markets []schema.Market) error {
	if len(markets) == 0 {
		return nil
	}
	record := BuildFixtureRecord(w.now().Unix(), markets)
	if err := w.store.UpsertFixtureRecord(ctx, fixtureID, record); err != nil {
		return fmt.Errorf("seed fixture %d: %w", fixtureID, err)
	}
	return nil
}

// UpdateBestPrices samples the family's current best prices from the order
// book and merges them into the fixture's history. Fixtures without a seeded
// row are skipped.
func (w *Writer) UpdateBestPrices(ctx context.Context, fixtureID int64, family schema.MarketFamily, book orderbook.Snapshot, mappings []schema.MarketMapping) error {
	timestamp := w.now().Unix()

	state, err := w.store.FamilyState(ctx, fixtureID, family)
	if err != nil {
		return fmt.Errorf("load fixture %d state: %w", fixtureID, err)
	}
	if state == nil {
		return nil
	}

	entry := OddsEntry{T: timestamp}
	stakes := MaxStakesEntry{T: timestamp}
	slots := outcomeIndex(family, mappings)

	switch family {
	case schema.FamilyMatchResult:
		buildMatchResult(&entry, &stakes, book, slots)
	case schema.FamilyHandicap, schema.FamilyTotals:
		buildLined(&entry, &stakes, family, book, slots, latestLines(state.Lines, family))
	}

	state.Odds = MergeOdds(state.Odds, entry)
	if len(state.MaxStakes) == 0 {
		state.MaxStakes = []MaxStakesEntry{stakes}
	} else {
		state.MaxStakes[0] = stakes
	}

	latestT := make(map[string]int64, len(state.LatestT)+2)
	for k, v := range state.LatestT {
		latestT[k] = v
	}
	latestT[string(family)+"_ts"] = timestamp
	latestT["stakes_ts"] = timestamp

	if err := w.store.SaveFamilyState(ctx, fixtureID, family, state.Odds, state.MaxStakes, latestT); err != nil {
		return fmt.Errorf("save fixture %d state: %w", fixtureID, err)
	}
	return nil
}

type outcomeSlotRef struct {
	slot int
	line float64
}

func outcomeIndex(family schema.MarketFamily, mappings []schema.MarketMapping) map[string]outcomeSlotRef {
	index := make(map[string]outcomeSlotRef)
	for _, mapping := range mappings {
		if mapping.Family != family {
			continue
		}
		for outcomeID, slot := range mapping.OutcomeSlots {
			index[outcomeID] = outcomeSlotRef{slot: slot, line: mapping.Line.InexactFloat64()}
		}
	}
	return index
}

func latestLines(entries []LinesEntry, family schema.MarketFamily) []float64 {
	if len(entries) == 0 {
		return nil
	}
	latest := entries[len(entries)-1]
	if family == schema.FamilyHandicap {
		return latest.AH
	}
	return latest.OU
}

func buildMatchResult(entry *OddsEntry, stakes *MaxStakesEntry, book orderbook.Snapshot, slots map[string]outcomeSlotRef) {
	prices := make([]int32, 3)
	var liquidity [3]float64
	for outcomeID, levels := range book {
		ref, ok := slots[outcomeID]
		if !ok || ref.slot >= 3 || len(levels) == 0 {
			continue
		}
		best := levels[0]
		prices[ref.slot] = TransformPrice(best.Price)
		liquidity[ref.slot] = best.Liquidity.InexactFloat64()
	}
	entry.X12 = prices
	stakes.MaxStakeX12 = &liquidity
}

func buildLined(entry *OddsEntry, stakes *MaxStakesEntry, family schema.MarketFamily, book orderbook.Snapshot, slots map[string]outcomeSlotRef, lineValues []float64) {
	if len(lineValues) == 0 {
		return
	}
	home := make([]int32, len(lineValues))
	away := make([]int32, len(lineValues))
	sides := &StakeSides{H: make([]float64, len(lineValues)), A: make([]float64, len(lineValues))}

	for outcomeID, levels := range book {
		ref, ok := slots[outcomeID]
		if !ok || len(levels) == 0 {
			continue
		}
		lineIndex := -1
		for i, v := range lineValues {
			if v == ref.line {
				lineIndex = i
				break
			}
		}
		if lineIndex < 0 {
			continue
		}
		best := levels[0]
		price := TransformPrice(best.Price)
		if ref.slot%2 == 0 {
			home[lineIndex] = price
			sides.H[lineIndex] = best.Liquidity.InexactFloat64()
		} else {
			away[lineIndex] = price
			sides.A[lineIndex] = best.Liquidity.InexactFloat64()
		}
	}

	if family == schema.FamilyHandicap {
		entry.AHH, entry.AHA = home, away
		stakes.MaxStakeAH = sides
	} else {
		entry.OUO, entry.OUU = home, away
		stakes.MaxStakeOU = sides
	}
}
