// Package persistence maps order book state onto the football_odds table's
// jsonb history columns.
package persistence

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	one      = decimal.NewFromInt(1)
	margin   = decimal.RequireFromString("0.99")
	thousand = decimal.NewFromInt(1000)
)

// TransformPrice converts a venue decimal price into the integer odds format
// stored downstream: floor(((p - 1) * 0.99 + 1) * 1000).
func TransformPrice(price decimal.Decimal) int32 {
	scaled := price.Sub(one).Mul(margin).Add(one).Mul(thousand).Floor()
	return int32(scaled.IntPart())
}

// OddsEntry is one timestamped best-price sample. Exactly one family's keys
// are populated per entry.
type OddsEntry struct {
	T   int64   `json:"t"`
	X12 []int32 `json:"x12,omitempty"`
	AHH []int32 `json:"ah_h,omitempty"`
	AHA []int32 `json:"ah_a,omitempty"`
	OUO []int32 `json:"ou_o,omitempty"`
	OUU []int32 `json:"ou_u,omitempty"`
}

// LinesEntry records the handicap and totals line values known at time T,
// sorted ascending.
type LinesEntry struct {
	T  int64     `json:"t"`
	AH []float64 `json:"ah,omitempty"`
	OU []float64 `json:"ou,omitempty"`
}

// LineIDs lists venue outcome identifiers per family, in line order with
// home/over slots before away/under slots within each line.
type LineIDs struct {
	X12 []string `json:"x12"`
	AH  []string `json:"ah"`
	OU  []string `json:"ou"`
}

// IDsEntry records the venue identifiers backing a fixture's markets at time T.
type IDsEntry struct {
	T       int64   `json:"t"`
	LineID  *string `json:"line_id"`
	LineIDs LineIDs `json:"line_ids"`
}

// StakeSides carries per-line liquidity for a two-sided family. H holds the
// home or over side, A the away or under side.
type StakeSides struct {
	H []float64 `json:"h"`
	A []float64 `json:"a"`
}

// MaxStakesEntry records available liquidity at time T. The slice stored in
// max_stakes keeps only the latest entry at index zero.
type MaxStakesEntry struct {
	T           int64       `json:"t"`
	MaxStakeX12 *[3]float64 `json:"max_stake_x12,omitempty"`
	MaxStakeAH  *StakeSides `json:"max_stake_ah,omitempty"`
	MaxStakeOU  *StakeSides `json:"max_stake_ou,omitempty"`
}

// MergeOdds folds entry into history: an entry sharing a timestamp replaces
// the old sample, otherwise it is appended, and the result stays sorted by T.
func MergeOdds(history []OddsEntry, entry OddsEntry) []OddsEntry {
	replaced := false
	for i := range history {
		if history[i].T == entry.T {
			history[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		history = append(history, entry)
	}
	sort.SliceStable(history, func(i, j int) bool { return history[i].T < history[j].T })
	return history
}
