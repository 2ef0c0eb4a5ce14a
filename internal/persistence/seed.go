package persistence

import (
	"sort"

	"github.com/coachpo/oddstream/internal/catalog"
	"github.com/coachpo/oddstream/internal/schema"
)

// FixtureRecord is the initial shape written for a fixture before any stream
// delta arrives: line values, outcome identifiers, and pre-play liquidity.
type FixtureRecord struct {
	Lines     LinesEntry
	IDs       IDsEntry
	MaxStakes MaxStakesEntry
}

type linedMarket struct {
	line   float64
	market schema.Market
}

// BuildFixtureRecord derives the seed payloads for one fixture from its
// discovered markets. Handicap and totals lines are ordered ascending;
// markets whose line cannot be parsed are skipped.
func BuildFixtureRecord(timestamp int64, markets []schema.Market) FixtureRecord {
	record := FixtureRecord{
		Lines:     LinesEntry{T: timestamp},
		IDs:       IDsEntry{T: timestamp, LineIDs: LineIDs{X12: []string{}, AH: []string{}, OU: []string{}}},
		MaxStakes: MaxStakesEntry{T: timestamp},
	}

	var x12 []schema.Market
	var ah, ou []linedMarket
	for _, market := range markets {
		family, ok := schema.FamilyForMarketType(market.MarketType.First())
		if !ok {
			continue
		}
		switch family {
		case schema.FamilyMatchResult:
			x12 = append(x12, market)
		case schema.FamilyHandicap:
			if line, ok := catalog.HandicapLine(market); ok {
				ah = append(ah, linedMarket{line: line.InexactFloat64(), market: market})
			}
		case schema.FamilyTotals:
			if line, ok := catalog.TotalsLine(market); ok {
				ou = append(ou, linedMarket{line: line.InexactFloat64(), market: market})
			}
		}
	}
	sortByLine(ah)
	sortByLine(ou)

	if len(ah) > 0 {
		record.Lines.AH = lineValues(ah)
		stakes := &StakeSides{H: make([]float64, len(ah)), A: make([]float64, len(ah))}
		for lineIndex, lm := range ah {
			record.IDs.LineIDs.AH = append(record.IDs.LineIDs.AH, lm.market.MarketOutcomes.IDs...)
			accumulateSides(stakes, lineIndex, lm.market)
		}
		record.MaxStakes.MaxStakeAH = stakes
	}
	if len(ou) > 0 {
		record.Lines.OU = lineValues(ou)
		stakes := &StakeSides{H: make([]float64, len(ou)), A: make([]float64, len(ou))}
		for lineIndex, lm := range ou {
			record.IDs.LineIDs.OU = append(record.IDs.LineIDs.OU, lm.market.MarketOutcomes.IDs...)
			accumulateSides(stakes, lineIndex, lm.market)
		}
		record.MaxStakes.MaxStakeOU = stakes
	}
	if len(x12) > 0 {
		market := x12[0]
		id := market.ID
		record.IDs.LineID = &id
		record.IDs.LineIDs.X12 = append([]string{}, market.MarketOutcomes.IDs...)

		var stakes [3]float64
		for _, price := range market.Prices {
			if price.Side != schema.SideAgainst {
				continue
			}
			if slot := outcomeSlot(market, price.OutcomeID); slot >= 0 && slot < 3 {
				stakes[slot] += price.Liquidity.InexactFloat64()
			}
		}
		record.MaxStakes.MaxStakeX12 = &stakes
	}
	return record
}

func sortByLine(markets []linedMarket) {
	sort.SliceStable(markets, func(i, j int) bool { return markets[i].line < markets[j].line })
}

func lineValues(markets []linedMarket) []float64 {
	values := make([]float64, len(markets))
	for i, lm := range markets {
		values[i] = lm.line
	}
	return values
}

// accumulateSides folds a market's lay liquidity into the per-line stake
// arrays. Even outcome slots are the home or over side.
func accumulateSides(stakes *StakeSides, lineIndex int, market schema.Market) {
	for _, price := range market.Prices {
		if price.Side != schema.SideAgainst {
			continue
		}
		slot := outcomeSlot(market, price.OutcomeID)
		if slot < 0 {
			continue
		}
		if slot%2 == 0 {
			stakes.H[lineIndex] += price.Liquidity.InexactFloat64()
		} else {
			stakes.A[lineIndex] += price.Liquidity.InexactFloat64()
		}
	}
}

func outcomeSlot(market schema.Market, outcomeID string) int {
	for i, id := range market.MarketOutcomes.IDs {
		if id == outcomeID {
			return i
		}
	}
	return -1
}
