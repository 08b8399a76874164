package marketplace

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestResultSet_LenHandlesNil(t *testing.T) {
	var rs *ResultSet
	if got := rs.Len(); got != 0 {
		t.Errorf("Len() on nil ResultSet = %d, want 0", got)
	}
}

func TestResultSet_Len(t *testing.T) {
	rs := &ResultSet{
		Pairs: []Pair{
			{Key: "a", PriceA: decimal.NewFromInt(1)},
			{Key: "b", PriceA: decimal.NewFromInt(2)},
		},
		BuiltAt: time.Now(),
	}
	if got := rs.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestItem_FieldsRoundTrip(t *testing.T) {
	n := 12
	item := Item{
		Key:         "AWP | Asiimov (Field-Tested)",
		DisplayName: "AWP | Asiimov (Field-Tested)",
		Price:       decimal.NewFromFloat(45.50),
		SellCount:   &n,
		SourceLink:  "https://example.com/item/1",
		FetchedAt:   time.Now(),
	}
	if item.Key != item.DisplayName {
		t.Errorf("expected matching key/display name in this fixture")
	}
	if *item.SellCount != 12 {
		t.Errorf("SellCount = %d, want 12", *item.SellCount)
	}
}
