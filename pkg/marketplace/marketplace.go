// Package marketplace defines the data model shared across both
// marketplace clients and the matching pipeline: items, matched pairs,
// and the ordered result set the orchestrator publishes.
package marketplace

import (
	"time"

	"github.com/shopspring/decimal"
)

// ID identifies one of the two marketplaces being diffed.
type ID string

const (
	A ID = "A"
	B ID = "B"
)

// MatchedBy records how a Pair's two sides were joined.
type MatchedBy string

const (
	KeyExact  MatchedBy = "KEY_EXACT"
	NameExact MatchedBy = "NAME_EXACT"
)

// Item is one listing observed on a single marketplace during a refresh.
//
// Key is the canonical cross-market hash key (§6); Price is the lowest
// asking price observed for that key within one refresh (§3).
type Item struct {
	Key         string
	DisplayName string
	Price       decimal.Decimal
	SellCount   *int
	SourceLink  string
	FetchedAt   time.Time
}

// Pair is one matched cross-market record with its computed differential.
type Pair struct {
	Key         string          `json:"key"`
	DisplayName string          `json:"display_name"`
	PriceA      decimal.Decimal `json:"price_a"`
	PriceB      decimal.Decimal `json:"price_b"`
	Diff        decimal.Decimal `json:"diff"`
	Margin      decimal.Decimal `json:"margin"`
	BuyLink     string          `json:"buy_link"`
	MatchedBy   MatchedBy       `json:"matched_by"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// ResultSet is the ordered, filtered output of one refresh cycle.
// Pairs are sorted by descending margin, diff as tiebreak, then key for
// stability (§3); length never exceeds the configured output cap.
type ResultSet struct {
	Pairs       []Pair
	BuiltAt     time.Time
	MatchCounts map[MatchedBy]int
}

// Len is a convenience accessor used by the query surface.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Pairs)
}
