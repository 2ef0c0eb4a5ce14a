package persistence

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTransformPrice(t *testing.T) {
	cases := []struct {
		price string
		want  int32
	}{
		{"1.0", 1000},
		{"2.50", 2485},
		{"2.0", 1990},
		{"3.333", 3309},
		{"10.0", 9910},
	}
	for _, tc := range cases {
		got := TransformPrice(decimal.RequireFromString(tc.price))
		if got != tc.want {
			t.Errorf("TransformPrice(%s) = %d, want %d", tc.price, got, tc.want)
		}
	}
}

func TestMergeOddsAppendsAndSorts(t *testing.T) {
	history := []OddsEntry{{T: 10}, {T: 30}}
	history = MergeOdds(history, OddsEntry{T: 20, X12: []int32{1990, 0, 0}})

	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	for i, want := range []int64{10, 20, 30} {
		if history[i].T != want {
			t.Fatalf("history[%d].T = %d, want %d", i, history[i].T, want)
		}
	}
}

func TestMergeOddsReplacesSameTimestamp(t *testing.T) {
	history := []OddsEntry{{T: 10, X12: []int32{1000, 0, 0}}}
	history = MergeOdds(history, OddsEntry{T: 10, X12: []int32{2485, 0, 0}})

	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].X12[0] != 2485 {
		t.Fatalf("history[0].X12[0] = %d, want replacement 2485", history[0].X12[0])
	}
}
