// Package schema defines venue wire payloads and the canonical market model.
package schema

import (
	"github.com/shopspring/decimal"
)

// MarketFamily identifies a supported football market family.
type MarketFamily string

const (
	// FamilyMatchResult covers 1X2 full time result markets.
	FamilyMatchResult MarketFamily = "x12"
	// FamilyHandicap covers asian goal handicap markets.
	FamilyHandicap MarketFamily = "ah"
	// FamilyTotals covers over/under total goals markets.
	FamilyTotals MarketFamily = "ou"
)

// Venue market type identifiers requested during discovery.
const (
	MarketTypeFullTimeResult = "FOOTBALL_FULL_TIME_RESULT"
	MarketTypeHandicap       = "FOOTBALL_FULL_TIME_RESULT_HANDICAP"
	MarketTypeOverUnder      = "FOOTBALL_OVER_UNDER_TOTAL_GOALS"
)

// FamilyForMarketType maps a venue market type identifier onto a market family.
func FamilyForMarketType(marketTypeID string) (MarketFamily, bool) {
	switch marketTypeID {
	case MarketTypeFullTimeResult:
		return FamilyMatchResult, true
	case MarketTypeHandicap:
		return FamilyHandicap, true
	case MarketTypeOverUnder:
		return FamilyTotals, true
	default:
		return "", false
	}
}

// Market lifecycle statuses as reported by the venue.
const (
	StatusInitializing = "Initializing"
	StatusOpen         = "Open"
	StatusLocked       = "Locked"
	StatusClosed       = "Closed"
)

// In-play statuses as reported by the venue.
const (
	InPlayPrePlay       = "PrePlay"
	InPlayNotApplicable = "NotApplicable"
	InPlayLive          = "InPlay"
)

// Reference is the venue's sub-resource pointer shape.
type Reference struct {
	IDs []string `json:"_ids"`
	Ref string   `json:"_ref"`
}

// First returns the first referenced identifier, or empty.
func (r Reference) First() string {
	if len(r.IDs) == 0 {
		return ""
	}
	return r.IDs[0]
}

// Market is a venue market resource from the discovery endpoint.
type Market struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	MarketType     Reference    `json:"marketType"`
	Event          Reference    `json:"event"`
	MarketOutcomes Reference    `json:"marketOutcomes"`
	Status         string       `json:"status"`
	InPlayStatus   string       `json:"inPlayStatus"`
	MarketValue    string       `json:"marketValue"`
	Prices         []PriceLevel `json:"prices"`
}

// VenueEvent is a venue event resource carried alongside markets.
type VenueEvent struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	ExpectedStartTime string    `json:"expectedStartTime"`
	EventGroup        Reference `json:"eventGroup"`
}

// MarketsPage is one page of the paginated discovery response.
type MarketsPage struct {
	Markets []Market     `json:"markets"`
	Events  []VenueEvent `json:"events"`
}

// MarketMapping binds a venue market to a fixture, family, and outcome layout.
type MarketMapping struct {
	EventID      string
	MarketID     string
	MarketTypeID string
	Family       MarketFamily
	Name         string
	FixtureID    int64
	// Line is the handicap or totals line, zero for 1X2 markets.
	Line decimal.Decimal
	// LineIndex is the market's slot within the per-family line list.
	LineIndex int
	// OutcomeSlots maps venue outcome IDs onto outcome positions. Even
	// positions are home/over sides, odd positions away/under.
	OutcomeSlots map[string]int
}

// Key returns the catalog lookup key for a venue event and market pair.
func (m MarketMapping) Key() string {
	return MappingKey(m.EventID, m.MarketID)
}

// MappingKey builds the catalog lookup key for a venue event and market pair.
func MappingKey(eventID, marketID string) string {
	return eventID + "-" + marketID
}
