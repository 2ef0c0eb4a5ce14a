package catalog

import (
	"context"
	"regexp"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coachpo/oddstream/internal/observability"
	"github.com/coachpo/oddstream/internal/schema"
)

// FixtureResolver matches a venue event against the fixtures database.
type FixtureResolver interface {
	ResolveFixture(ctx context.Context, event schema.VenueEvent) (int64, bool, error)
}

var (
	handicapLineRe = regexp.MustCompile(`Goal Handicap ([+-]?[0-9.]+)`)
	totalsLineRe   = regexp.MustCompile(`Total Goals Over/Under ([0-9.]+)`)
)

// HandicapLine extracts the handicap line from a market name.
func HandicapLine(m schema.Market) (decimal.Decimal, bool) {
	match := handicapLineRe.FindStringSubmatch(m.Name)
	if match == nil {
		return decimal.Decimal{}, false
	}
	value, err := decimal.NewFromString(match[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value, true
}

// TotalsLine extracts the totals line, preferring the marketValue field over
// the market name.
func TotalsLine(m schema.Market) (decimal.Decimal, bool) {
	if m.MarketValue != "" {
		if value, err := decimal.NewFromString(m.MarketValue); err == nil {
			return value, true
		}
	}
	match := totalsLineRe.FindStringSubmatch(m.Name)
	if match == nil {
		return decimal.Decimal{}, false
	}
	value, err := decimal.NewFromString(match[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value, true
}

type lineEntry struct {
	value   decimal.Decimal
	mapping string
}

// Build constructs a catalog snapshot from one discovery sweep. Markets whose
// type is unsupported or whose line cannot be parsed are dropped. Markets
// whose event resolves to no fixture keep their mapping, so stream frames for
// them still pass the subscription filter, but carry fixture id 0 and are
// excluded from book priming and persistence until a later sweep resolves
// them.
func Build(ctx context.Context, generation uint64, page schema.MarketsPage, resolver FixtureResolver) (*Catalog, error) {
	c := emptyCatalog()
	c.generation = generation

	eventsByID := make(map[string]schema.VenueEvent, len(page.Events))
	for _, event := range page.Events {
		eventsByID[event.ID] = event
	}

	fixtureByEvent := make(map[string]int64)
	var skippedType, skippedLine, unresolved int

	byFixtureLines := make(map[int64]map[schema.MarketFamily][]lineEntry)

	for _, market := range page.Markets {
		family, ok := schema.FamilyForMarketType(market.MarketType.First())
		if !ok {
			skippedType++
			continue
		}

		eventID := market.Event.First()
		if eventID == "" {
			skippedType++
			continue
		}

		var line decimal.Decimal
		switch family {
		case schema.FamilyHandicap:
			line, ok = HandicapLine(market)
		case schema.FamilyTotals:
			line, ok = TotalsLine(market)
		default:
			ok = true
		}
		if !ok {
			skippedLine++
			continue
		}

		fixtureID, resolved := resolveEvent(ctx, resolver, eventsByID, fixtureByEvent, eventID)
		if !resolved {
			unresolved++
		}

		slots := make(map[string]int, len(market.MarketOutcomes.IDs))
		for index, outcomeID := range market.MarketOutcomes.IDs {
			slots[outcomeID] = index
		}

		mapping := schema.MarketMapping{
			EventID:      eventID,
			MarketID:     market.ID,
			MarketTypeID: market.MarketType.First(),
			Family:       family,
			Name:         market.Name,
			FixtureID:    fixtureID,
			Line:         line,
			OutcomeSlots: slots,
		}
		c.mappings[mapping.Key()] = mapping
		if !resolved {
			continue
		}
		c.markets[fixtureID] = append(c.markets[fixtureID], market)

		if family == schema.FamilyHandicap || family == schema.FamilyTotals {
			byFamily := byFixtureLines[fixtureID]
			if byFamily == nil {
				byFamily = make(map[schema.MarketFamily][]lineEntry)
				byFixtureLines[fixtureID] = byFamily
			}
			byFamily[family] = append(byFamily[family], lineEntry{value: line, mapping: mapping.Key()})
		}
	}

	assignLineIndices(c, byFixtureLines)

	for _, mapping := range c.mappings {
		if mapping.FixtureID == 0 {
			continue
		}
		c.byFixture[mapping.FixtureID] = append(c.byFixture[mapping.FixtureID], mapping)
	}

	observability.Log().Info("catalog built",
		observability.Field{Key: "generation", Value: generation},
		observability.Field{Key: "markets", Value: len(c.mappings)},
		observability.Field{Key: "fixtures", Value: len(c.byFixture)},
		observability.Field{Key: "skipped_type", Value: skippedType},
		observability.Field{Key: "skipped_line", Value: skippedLine},
		observability.Field{Key: "unresolved", Value: unresolved})
	return c, nil
}

// resolveEvent memoises fixture resolution per venue event so each event hits
// the database once per sweep. A resolver error costs only that event: it is
// logged and the event treated as unresolved for the rest of the sweep.
func resolveEvent(ctx context.Context, resolver FixtureResolver, events map[string]schema.VenueEvent, cache map[string]int64, eventID string) (int64, bool) {
	if fixtureID, ok := cache[eventID]; ok {
		return fixtureID, fixtureID != 0
	}

	event, ok := events[eventID]
	if !ok {
		cache[eventID] = 0
		return 0, false
	}

	fixtureID, resolved, err := resolver.ResolveFixture(ctx, event)
	if err != nil {
		observability.Log().Error("fixture resolution failed",
			observability.Field{Key: "event_id", Value: eventID},
			observability.Field{Key: "error", Value: err.Error()})
		cache[eventID] = 0
		return 0, false
	}
	if !resolved {
		cache[eventID] = 0
		return 0, false
	}
	cache[eventID] = fixtureID
	return fixtureID, true
}

// assignLineIndices sorts each fixture's handicap and totals lines ascending
// and records every market's slot in that order.
func assignLineIndices(c *Catalog, byFixture map[int64]map[schema.MarketFamily][]lineEntry) {
	for fixtureID, byFamily := range byFixture {
		for family, entries := range byFamily {
			sort.SliceStable(entries, func(i, j int) bool {
				return entries[i].value.LessThan(entries[j].value)
			})
			values := make([]decimal.Decimal, len(entries))
			for index, entry := range entries {
				values[index] = entry.value
				mapping := c.mappings[entry.mapping]
				mapping.LineIndex = index
				c.mappings[entry.mapping] = mapping
			}
			if c.lines[fixtureID] == nil {
				c.lines[fixtureID] = make(map[schema.MarketFamily][]decimal.Decimal)
			}
			c.lines[fixtureID][family] = values
		}
	}
}
