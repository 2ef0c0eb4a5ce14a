// Package orderbook tracks per-fixture market depth built from venue deltas.
package orderbook

import (
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coachpo/oddstream/internal/schema"
)

// Level is one price level of an outcome ladder.
type Level struct {
	Price     decimal.Decimal
	Liquidity decimal.Decimal
}

// Snapshot is a detached copy of one market's ladders keyed by outcome ID.
type Snapshot map[string][]Level

// Best returns the highest-priced level for the outcome.
func (s Snapshot) Best(outcomeID string) (Level, bool) {
	levels := s[outcomeID]
	if len(levels) == 0 {
		return Level{}, false
	}
	return levels[0], true
}

// Books holds the live order books keyed by fixture and market family. All
// methods are safe for concurrent use.
type Books struct {
	mu    sync.Mutex
	books map[string]map[string][]Level
}

// New returns an empty book set.
func New() *Books {
	return &Books{books: make(map[string]map[string][]Level)}
}

func bookKey(fixtureID int64, family schema.MarketFamily) string {
	return strconv.FormatInt(fixtureID, 10) + "-" + string(family)
}

// Prime seeds ladders from discovery markets, aggregating lay-side liquidity
// per price before the stream starts delivering deltas.
func (b *Books) Prime(fixtureID int64, markets []schema.Market) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, market := range markets {
		family, ok := schema.FamilyForMarketType(market.MarketType.First())
		if !ok || len(market.Prices) == 0 {
			continue
		}
		key := bookKey(fixtureID, family)
		book := b.books[key]
		if book == nil {
			book = make(map[string][]Level)
			b.books[key] = book
		}

		byOutcome := make(map[string]map[string]decimal.Decimal)
		for _, price := range market.Prices {
			if price.Side != schema.SideAgainst {
				continue
			}
			prices := byOutcome[price.OutcomeID]
			if prices == nil {
				prices = make(map[string]decimal.Decimal)
				byOutcome[price.OutcomeID] = prices
			}
			priceKey := price.Price.String()
			prices[priceKey] = prices[priceKey].Add(price.Liquidity)
		}

		for outcomeID, prices := range byOutcome {
			levels := make([]Level, 0, len(prices))
			for priceKey, liquidity := range prices {
				if !liquidity.IsPositive() {
					continue
				}
				price, err := decimal.NewFromString(priceKey)
				if err != nil {
					continue
				}
				levels = append(levels, Level{Price: price, Liquidity: liquidity})
			}
			sortLevels(levels)
			book[outcomeID] = levels
		}
	}
}

// ApplyDelta folds a price update into the market's ladders and returns a
// snapshot of the result. Zero liquidity removes a level; a known price has
// its liquidity replaced; a new price is inserted. Ladders stay sorted by
// price descending.
func (b *Books) ApplyDelta(fixtureID int64, family schema.MarketFamily, outcomeSlots map[string]int, prices []schema.PriceLevel) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := bookKey(fixtureID, family)
	book := b.books[key]
	if book == nil {
		book = make(map[string][]Level, len(outcomeSlots))
		for outcomeID := range outcomeSlots {
			book[outcomeID] = nil
		}
		b.books[key] = book
	}

	touched := make(map[string]struct{})
	for _, update := range prices {
		if update.Side != schema.SideAgainst || update.OutcomeID == "" {
			continue
		}
		levels := book[update.OutcomeID]

		found := -1
		for i, level := range levels {
			if level.Price.Equal(update.Price) {
				found = i
				break
			}
		}
		switch {
		case found >= 0 && !update.Liquidity.IsPositive():
			levels = append(levels[:found], levels[found+1:]...)
		case found >= 0:
			levels[found].Liquidity = update.Liquidity
		case update.Liquidity.IsPositive():
			levels = append(levels, Level{Price: update.Price, Liquidity: update.Liquidity})
		}
		book[update.OutcomeID] = levels
		touched[update.OutcomeID] = struct{}{}
	}

	for outcomeID := range touched {
		sortLevels(book[outcomeID])
	}
	return snapshotLocked(book)
}

// Reset empties every ladder for the market while keeping the outcome keys,
// producing the zeroed snapshot used when a market closes or goes in-play.
func (b *Books) Reset(fixtureID int64, family schema.MarketFamily, outcomeSlots map[string]int) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := bookKey(fixtureID, family)
	book := make(map[string][]Level, len(outcomeSlots))
	for outcomeID := range outcomeSlots {
		book[outcomeID] = nil
	}
	b.books[key] = book
	return snapshotLocked(book)
}

// Snapshot copies the current state of one market's ladders.
func (b *Books) Snapshot(fixtureID int64, family schema.MarketFamily) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[bookKey(fixtureID, family)]
	if !ok {
		return nil, false
	}
	return snapshotLocked(book), true
}

// Remove drops one market's ladders.
func (b *Books) Remove(fixtureID int64, family schema.MarketFamily) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.books, bookKey(fixtureID, family))
}

// Clear wipes every book, used when a catalog rebuild invalidates the set.
func (b *Books) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.books = make(map[string]map[string][]Level)
}

func sortLevels(levels []Level) {
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Price.GreaterThan(levels[j].Price)
	})
}

func snapshotLocked(book map[string][]Level) Snapshot {
	out := make(Snapshot, len(book))
	for outcomeID, levels := range book {
		copied := make([]Level, len(levels))
		copy(copied, levels)
		out[outcomeID] = copied
	}
	return out
}
