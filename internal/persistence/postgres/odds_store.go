// Package postgres persists fixture odds rows via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/oddstream/config"
	"github.com/coachpo/oddstream/internal/persistence"
	"github.com/coachpo/oddstream/internal/schema"
)

// OddsStore reads and writes football_odds rows.
type OddsStore struct {
	pool      *pgxpool.Pool
	bookmaker config.BookmakerSettings
}

// NewOddsStore constructs an OddsStore backed by the provided pool.
func NewOddsStore(pool *pgxpool.Pool, bookmaker config.BookmakerSettings) *OddsStore {
	return &OddsStore{pool: pool, bookmaker: bookmaker}
}

const (
	familyStateSQL = `
SELECT %s, lines, max_stakes, latest_t
FROM football_odds
WHERE fixture_id = @fixture_id AND bookie = @bookie;
`

	saveFamilySQL = `
UPDATE football_odds
SET %s = @odds::jsonb,
    max_stakes = @max_stakes::jsonb,
    latest_t = @latest_t::jsonb,
    updated_at = NOW()
WHERE fixture_id = @fixture_id AND bookie = @bookie;
`

	fixtureExistsSQL = `
SELECT fixture_id FROM football_odds WHERE fixture_id = @fixture_id AND bookie = @bookie;
`

	insertFixtureSQL = `
INSERT INTO football_odds (
    fixture_id,
    bookie_id,
    bookie,
    decimals,
    odds_x12,
    odds_ah,
    odds_ou,
    lines,
    ids,
    max_stakes,
    latest_t
)
VALUES (
    @fixture_id,
    @bookie_id,
    @bookie,
    @decimals,
    '[]'::jsonb,
    '[]'::jsonb,
    '[]'::jsonb,
    @lines::jsonb,
    @ids::jsonb,
    @max_stakes::jsonb,
    @latest_t::jsonb
);
`

	refreshFixtureSQL = `
UPDATE football_odds
SET lines = @lines::jsonb,
    ids = @ids::jsonb,
    max_stakes = @max_stakes::jsonb,
    latest_t = @latest_t::jsonb,
    bookie_id = @bookie_id,
    updated_at = NOW()
WHERE fixture_id = @fixture_id AND bookie = @bookie;
`
)

func oddsColumn(family schema.MarketFamily) (string, error) {
	switch family {
	case schema.FamilyMatchResult:
		return "odds_x12", nil
	case schema.FamilyHandicap:
		return "odds_ah", nil
	case schema.FamilyTotals:
		return "odds_ou", nil
	default:
		return "", fmt.Errorf("odds store: unknown family %q", family)
	}
}

// FamilyState implements persistence.Store.
func (s *OddsStore) FamilyState(ctx context.Context, fixtureID int64, family schema.MarketFamily) (*persistence.FamilyState, error) {
	column, err := oddsColumn(family)
	if err != nil {
		return nil, err
	}
	args := pgx.NamedArgs{
		"fixture_id": fixtureID,
		"bookie":     s.bookmaker.Name,
	}
	var oddsRaw, linesRaw, stakesRaw, latestRaw []byte
	row := s.pool.QueryRow(ctx, fmt.Sprintf(familyStateSQL, column), args)
	if err := row.Scan(&oddsRaw, &linesRaw, &stakesRaw, &latestRaw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("odds store: load fixture %d: %w", fixtureID, err)
	}

	state := &persistence.FamilyState{LatestT: make(map[string]int64)}
	if err := decodeColumn(oddsRaw, &state.Odds); err != nil {
		return nil, fmt.Errorf("odds store: decode %s: %w", column, err)
	}
	if err := decodeColumn(linesRaw, &state.Lines); err != nil {
		return nil, fmt.Errorf("odds store: decode lines: %w", err)
	}
	if err := decodeColumn(stakesRaw, &state.MaxStakes); err != nil {
		return nil, fmt.Errorf("odds store: decode max_stakes: %w", err)
	}
	if err := decodeColumn(latestRaw, &state.LatestT); err != nil {
		return nil, fmt.Errorf("odds store: decode latest_t: %w", err)
	}
	return state, nil
}

// SaveFamilyState implements persistence.Store.
func (s *OddsStore) SaveFamilyState(ctx context.Context, fixtureID int64, family schema.MarketFamily, odds []persistence.OddsEntry, maxStakes []persistence.MaxStakesEntry, latestT map[string]int64) error {
	column, err := oddsColumn(family)
	if err != nil {
		return err
	}
	oddsJSON, err := json.Marshal(odds)
	if err != nil {
		return fmt.Errorf("odds store: encode %s: %w", column, err)
	}
	stakesJSON, err := json.Marshal(maxStakes)
	if err != nil {
		return fmt.Errorf("odds store: encode max_stakes: %w", err)
	}
	latestJSON, err := json.Marshal(latestT)
	if err != nil {
		return fmt.Errorf("odds store: encode latest_t: %w", err)
	}
	args := pgx.NamedArgs{
		"fixture_id": fixtureID,
		"bookie":     s.bookmaker.Name,
		"odds":       string(oddsJSON),
		"max_stakes": string(stakesJSON),
		"latest_t":   string(latestJSON),
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(saveFamilySQL, column), args); err != nil {
		return fmt.Errorf("odds store: save fixture %d: %w", fixtureID, err)
	}
	return nil
}

// UpsertFixtureRecord implements persistence.Store. New fixtures get a full
// row with empty odds histories; existing rows keep their histories and have
// lines, ids, and max_stakes refreshed.
func (s *OddsStore) UpsertFixtureRecord(ctx context.Context, fixtureID int64, record persistence.FixtureRecord) error {
	linesJSON, err := json.Marshal([]persistence.LinesEntry{record.Lines})
	if err != nil {
		return fmt.Errorf("odds store: encode lines: %w", err)
	}
	idsJSON, err := json.Marshal([]persistence.IDsEntry{record.IDs})
	if err != nil {
		return fmt.Errorf("odds store: encode ids: %w", err)
	}
	stakesJSON, err := json.Marshal([]persistence.MaxStakesEntry{record.MaxStakes})
	if err != nil {
		return fmt.Errorf("odds store: encode max_stakes: %w", err)
	}
	timestamp := record.Lines.T
	latestJSON, err := json.Marshal(map[string]int64{
		"x12_ts":    timestamp,
		"ah_ts":     timestamp,
		"ou_ts":     timestamp,
		"lines_ts":  timestamp,
		"ids_ts":    timestamp,
		"stakes_ts": timestamp,
	})
	if err != nil {
		return fmt.Errorf("odds store: encode latest_t: %w", err)
	}

	args := pgx.NamedArgs{
		"fixture_id": fixtureID,
		"bookie_id":  s.bookmaker.ID,
		"bookie":     s.bookmaker.Name,
		"decimals":   s.bookmaker.Decimals,
		"lines":      string(linesJSON),
		"ids":        string(idsJSON),
		"max_stakes": string(stakesJSON),
		"latest_t":   string(latestJSON),
	}

	var existing int64
	err = s.pool.QueryRow(ctx, fixtureExistsSQL, pgx.NamedArgs{
		"fixture_id": fixtureID,
		"bookie":     s.bookmaker.Name,
	}).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := s.pool.Exec(ctx, insertFixtureSQL, args); err != nil {
			return fmt.Errorf("odds store: insert fixture %d: %w", fixtureID, err)
		}
	case err != nil:
		return fmt.Errorf("odds store: probe fixture %d: %w", fixtureID, err)
	default:
		if _, err := s.pool.Exec(ctx, refreshFixtureSQL, args); err != nil {
			return fmt.Errorf("odds store: refresh fixture %d: %w", fixtureID, err)
		}
	}
	return nil
}

func decodeColumn(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
