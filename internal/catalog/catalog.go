// Package catalog builds and serves the market discovery snapshot.
package catalog

import (
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/coachpo/oddstream/internal/schema"
)

// Catalog is an immutable discovery snapshot. Lookups are safe for concurrent
// use; a refresh publishes a new snapshot rather than mutating this one.
type Catalog struct {
	generation uint64
	mappings   map[string]schema.MarketMapping
	byFixture  map[int64][]schema.MarketMapping
	markets    map[int64][]schema.Market
	lines      map[int64]map[schema.MarketFamily][]decimal.Decimal
}

// Generation returns the snapshot's monotonically increasing version.
func (c *Catalog) Generation() uint64 { return c.generation }

// Lookup resolves the mapping for a venue event and market pair.
func (c *Catalog) Lookup(eventID, marketID string) (schema.MarketMapping, bool) {
	m, ok := c.mappings[schema.MappingKey(eventID, marketID)]
	return m, ok
}

// Subscribed reports whether the pair is part of the tracked offering.
func (c *Catalog) Subscribed(eventID, marketID string) bool {
	_, ok := c.mappings[schema.MappingKey(eventID, marketID)]
	return ok
}

// FixtureMappings returns every mapping bound to the fixture.
func (c *Catalog) FixtureMappings(fixtureID int64) []schema.MarketMapping {
	return c.byFixture[fixtureID]
}

// FixtureMarkets returns the raw discovery markets for the fixture, used to
// seed order books and storage records.
func (c *Catalog) FixtureMarkets(fixtureID int64) []schema.Market {
	return c.markets[fixtureID]
}

// Fixtures lists every fixture the snapshot resolved.
func (c *Catalog) Fixtures() []int64 {
	out := make([]int64, 0, len(c.byFixture))
	for id := range c.byFixture {
		out = append(out, id)
	}
	return out
}

// Lines returns the sorted line values for a fixture and family.
func (c *Catalog) Lines(fixtureID int64, family schema.MarketFamily) []decimal.Decimal {
	byFamily, ok := c.lines[fixtureID]
	if !ok {
		return nil
	}
	return byFamily[family]
}

// Size reports the number of mapped markets.
func (c *Catalog) Size() int { return len(c.mappings) }

// Store holds the active catalog snapshot behind an atomic pointer.
type Store struct {
	current atomic.Pointer[Catalog]
}

// NewStore returns a store primed with an empty snapshot.
func NewStore() *Store {
	s := new(Store)
	s.current.Store(emptyCatalog())
	return s
}

// Current returns the active snapshot. Never nil.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Publish swaps in a freshly built snapshot.
func (s *Store) Publish(c *Catalog) {
	if c != nil {
		s.current.Store(c)
	}
}

func emptyCatalog() *Catalog {
	return &Catalog{
		mappings:  map[string]schema.MarketMapping{},
		byFixture: map[int64][]schema.MarketMapping{},
		markets:   map[int64][]schema.Market{},
		lines:     map[int64]map[schema.MarketFamily][]decimal.Decimal{},
	}
}
