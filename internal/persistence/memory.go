package persistence

import (
	"context"
	"sync"

	"github.com/coachpo/oddstream/internal/schema"
)

type memoryRow struct {
	odds      map[schema.MarketFamily][]OddsEntry
	lines     []LinesEntry
	ids       []IDsEntry
	maxStakes []MaxStakesEntry
	latestT   map[string]int64
}

// MemoryStore keeps fixture rows in process. It backs unit tests and dry
// runs where no database is reachable.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[int64]*memoryRow
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*memoryRow)}
}

// FamilyState implements Store.
func (m *MemoryStore) FamilyState(_ context.Context, fixtureID int64, family schema.MarketFamily) (*FamilyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[fixtureID]
	if !ok {
		return nil, nil
	}
	state := &FamilyState{
		Odds:      append([]OddsEntry(nil), row.odds[family]...),
		Lines:     append([]LinesEntry(nil), row.lines...),
		MaxStakes: append([]MaxStakesEntry(nil), row.maxStakes...),
		LatestT:   make(map[string]int64, len(row.latestT)),
	}
	for k, v := range row.latestT {
		state.LatestT[k] = v
	}
	return state, nil
}

// SaveFamilyState implements Store.
func (m *MemoryStore) SaveFamilyState(_ context.Context, fixtureID int64, family schema.MarketFamily, odds []OddsEntry, maxStakes []MaxStakesEntry, latestT map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[fixtureID]
	if !ok {
		return nil
	}
	row.odds[family] = append([]OddsEntry(nil), odds...)
	row.maxStakes = append([]MaxStakesEntry(nil), maxStakes...)
	row.latestT = make(map[string]int64, len(latestT))
	for k, v := range latestT {
		row.latestT[k] = v
	}
	return nil
}

// UpsertFixtureRecord implements Store.
func (m *MemoryStore) UpsertFixtureRecord(_ context.Context, fixtureID int64, record FixtureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[fixtureID]
	if !ok {
		row = &memoryRow{odds: make(map[schema.MarketFamily][]OddsEntry)}
		m.rows[fixtureID] = row
	}
	row.lines = []LinesEntry{record.Lines}
	row.ids = []IDsEntry{record.IDs}
	row.maxStakes = []MaxStakesEntry{record.MaxStakes}
	row.latestT = map[string]int64{
		"x12_ts":    record.Lines.T,
		"ah_ts":     record.Lines.T,
		"ou_ts":     record.Lines.T,
		"lines_ts":  record.Lines.T,
		"ids_ts":    record.Lines.T,
		"stakes_ts": record.Lines.T,
	}
	return nil
}

// Row reports a fixture's stored columns for assertions in tests. The second
// return is false when the fixture has no row.
func (m *MemoryStore) Row(fixtureID int64) (map[schema.MarketFamily][]OddsEntry, []LinesEntry, []IDsEntry, []MaxStakesEntry, map[string]int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[fixtureID]
	if !ok {
		return nil, nil, nil, nil, nil, false
	}
	odds := make(map[schema.MarketFamily][]OddsEntry, len(row.odds))
	for family, entries := range row.odds {
		odds[family] = append([]OddsEntry(nil), entries...)
	}
	return odds, append([]LinesEntry(nil), row.lines...), append([]IDsEntry(nil), row.ids...),
		append([]MaxStakesEntry(nil), row.maxStakes...), row.latestT, true
}
