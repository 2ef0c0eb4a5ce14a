// Package fixtures matches venue events to internally known football
// fixtures using league membership, team names, and kickoff proximity.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/oddstream/internal/observability"
	"github.com/coachpo/oddstream/internal/schema"
)

const (
	leagueByEventGroupSQL = `
SELECT id FROM football_leagues
WHERE "monaco_eventGroup" = @group
   OR "monaco_eventGroup" LIKE @group_head
   OR "monaco_eventGroup" LIKE @group_tail
   OR "monaco_eventGroup" LIKE @group_mid
LIMIT 1;
`

	fixtureByTeamsSQL = `
SELECT id FROM football_fixtures
WHERE league_id = @league_id
  AND (
      (LOWER(home_team_name) LIKE LOWER(@home_pattern) AND LOWER(away_team_name) LIKE LOWER(@away_pattern))
      OR (similarity(home_team_name, @home_team) > 0.6 AND similarity(away_team_name, @away_team) > 0.6)
  )
  AND date BETWEEN @kickoff_from AND @kickoff_to
ORDER BY date
LIMIT 1;
`
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Resolver maps venue events onto football_fixtures rows.
type Resolver struct {
	db     rowQuerier
	window time.Duration
}

// NewResolver builds a resolver over the given pool. window bounds how far a
// fixture's kickoff may drift from the venue's expected start time.
func NewResolver(pool *pgxpool.Pool, window time.Duration) *Resolver {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Resolver{db: pool, window: window}
}

// ResolveFixture implements catalog.FixtureResolver. Events whose name does
// not carry two teams, whose start time is unparseable, or that match no
// known league or fixture resolve to (0, false, nil).
func (r *Resolver) ResolveFixture(ctx context.Context, event schema.VenueEvent) (int64, bool, error) {
	teams := strings.Split(event.Name, " v ")
	if len(teams) != 2 {
		return 0, false, nil
	}
	homeTeam := strings.TrimSpace(teams[0])
	awayTeam := strings.TrimSpace(teams[1])

	kickoff, err := time.Parse(time.RFC3339, event.ExpectedStartTime)
	if err != nil {
		return 0, false, nil
	}

	groupID := event.EventGroup.First()
	if groupID == "" {
		return 0, false, nil
	}

	var leagueID int32
	err = r.db.QueryRow(ctx, leagueByEventGroupSQL, pgx.NamedArgs{
		"group":      groupID,
		"group_head": groupID + ",%",
		"group_tail": "%," + groupID,
		"group_mid":  "%," + groupID + ",%",
	}).Scan(&leagueID)
	if errors.Is(err, pgx.ErrNoRows) {
		observability.Log().Debug("no league for event group",
			observability.Field{Key: "event_group", Value: groupID})
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("fixtures: lookup league for group %s: %w", groupID, err)
	}

	var fixtureID int64
	kickoffUTC := kickoff.UTC()
	err = r.db.QueryRow(ctx, fixtureByTeamsSQL, pgx.NamedArgs{
		"league_id":    leagueID,
		"home_pattern": "%" + homeTeam + "%",
		"away_pattern": "%" + awayTeam + "%",
		"home_team":    homeTeam,
		"away_team":    awayTeam,
		"kickoff_from": kickoffUTC.Add(-r.window),
		"kickoff_to":   kickoffUTC.Add(r.window),
	}).Scan(&fixtureID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("fixtures: lookup fixture for event %s: %w", event.ID, err)
	}

	observability.Log().Info("mapped event to fixture",
		observability.Field{Key: "event_id", Value: event.ID},
		observability.Field{Key: "fixture_id", Value: fixtureID},
		observability.Field{Key: "home_team", Value: homeTeam},
		observability.Field{Key: "away_team", Value: awayTeam})
	return fixtureID, true, nil
}
