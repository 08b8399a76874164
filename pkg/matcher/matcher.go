// Package matcher implements the Matcher & Ranker (C4): it joins
// marketplace A's catalogue against marketplace B's on the canonical
// key, with a display-name fallback, filters the result against the
// current price and diff bands, and ranks the survivors.
package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skinarb/skinarb/pkg/config"
	"github.com/skinarb/skinarb/pkg/marketplace"
)

// Run joins aItems against bItems under params, keeping only pairs
// whose A-price falls in the price band and whose diff falls in the
// diff band, then sorts by margin desc, diff desc, key asc and
// truncates to MaxOutput. Fuzzy matching is intentionally not
// attempted: KEY_EXACT is the canonical join, NAME_EXACT a narrow
// fallback for items missing a canonical key on one side.
func Run(aItems, bItems []marketplace.Item, params config.Params) marketplace.ResultSet {
	byKey := make(map[string]decimal.Decimal, len(bItems))
	byName := make(map[string]decimal.Decimal, len(bItems))
	for _, b := range bItems {
		if existing, ok := byKey[b.Key]; !ok || b.Price.LessThan(existing) {
			byKey[b.Key] = b.Price
		}
		if existing, ok := byName[b.DisplayName]; !ok || b.Price.LessThan(existing) {
			byName[b.DisplayName] = b.Price
		}
	}

	now := time.Now().UTC()
	counts := map[marketplace.MatchedBy]int{}
	pairs := make([]marketplace.Pair, 0, len(aItems))

	for _, a := range aItems {
		if !a.Price.IsPositive() {
			continue
		}
		if a.Price.LessThan(params.PriceBandLo) {
			continue
		}
		if !params.PriceBandHi.IsZero() && a.Price.GreaterThan(params.PriceBandHi) {
			continue
		}

		bPrice, matchedBy, ok := lookup(a, byKey, byName)
		if !ok {
			continue
		}

		diff := bPrice.Sub(a.Price)
		if diff.LessThan(params.DiffBandLo) || diff.GreaterThan(params.DiffBandHi) {
			continue
		}
		margin := diff.Div(a.Price)

		pairs = append(pairs, marketplace.Pair{
			Key:         a.Key,
			DisplayName: a.DisplayName,
			PriceA:      a.Price,
			PriceB:      bPrice,
			Diff:        diff,
			Margin:      margin,
			BuyLink:     a.SourceLink,
			MatchedBy:   matchedBy,
			ObservedAt:  now,
		})
		counts[matchedBy]++
	}

	sort.Slice(pairs, func(i, j int) bool {
		if !pairs[i].Margin.Equal(pairs[j].Margin) {
			return pairs[i].Margin.GreaterThan(pairs[j].Margin)
		}
		if !pairs[i].Diff.Equal(pairs[j].Diff) {
			return pairs[i].Diff.GreaterThan(pairs[j].Diff)
		}
		return pairs[i].Key < pairs[j].Key
	})

	if len(pairs) > params.MaxOutput {
		pairs = pairs[:params.MaxOutput]
	}

	return marketplace.ResultSet{Pairs: pairs, BuiltAt: now, MatchCounts: counts}
}

func lookup(a marketplace.Item, byKey, byName map[string]decimal.Decimal) (decimal.Decimal, marketplace.MatchedBy, bool) {
	if price, ok := byKey[a.Key]; ok {
		return price, marketplace.KeyExact, true
	}
	if price, ok := byName[a.DisplayName]; ok {
		return price, marketplace.NameExact, true
	}
	return decimal.Decimal{}, "", false
}
