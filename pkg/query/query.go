// Package query implements the Query Surface (C9): pure reads against
// the current ResultSet. None of these operations ever block on a
// running refresh — they read whatever the orchestrator has last
// published.
package query

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skinarb/skinarb/pkg/marketplace"
	"github.com/skinarb/skinarb/pkg/orchestrator"
)

// SortBy selects the ordering for List.
type SortBy string

const (
	SortByDiff   SortBy = "diff"
	SortByMargin SortBy = "margin"
)

// ResultSetSource is the subset of *orchestrator.Orchestrator the
// query surface reads from.
type ResultSetSource interface {
	Current() *marketplace.ResultSet
	Status() orchestrator.Status
}

// TickSource reports the next scheduled refresh tick; *scheduler.Scheduler
// implements it. Nil is a valid Surface configuration (no scheduler wired
// yet, e.g. in tests) and simply leaves Status.NextTick zero.
type TickSource interface {
	NextTick() time.Time
}

// Status is the orchestrator's phase/progress/last-error projection
// plus the next time the scheduler will fire a refresh (§4.9, §6).
type Status struct {
	orchestrator.Status
	NextTick time.Time `json:"next_tick"`
}

// Surface answers read-only queries against the live ResultSet.
type Surface struct {
	source ResultSetSource
	ticks  TickSource
}

// New builds a Surface over source, optionally reporting the scheduler's
// next-tick time through ticks (pass nil if no scheduler is wired).
func New(source ResultSetSource, ticks TickSource) *Surface {
	return &Surface{source: source, ticks: ticks}
}

// List returns a filtered and sorted projection of the current Pairs.
// minDiff, if non-nil, excludes pairs below it. sortBy defaults to
// margin descending; limit, if positive, truncates the result.
func (s *Surface) List(minDiff *decimal.Decimal, sortBy SortBy, limit int) []marketplace.Pair {
	rs := s.source.Current()
	if rs == nil {
		return nil
	}

	out := make([]marketplace.Pair, 0, len(rs.Pairs))
	for _, p := range rs.Pairs {
		if minDiff != nil && p.Diff.LessThan(*minDiff) {
			continue
		}
		out = append(out, p)
	}

	switch sortBy {
	case SortByDiff:
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Diff.Equal(out[j].Diff) {
				return out[i].Diff.GreaterThan(out[j].Diff)
			}
			return out[i].Key < out[j].Key
		})
	default:
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Margin.Equal(out[j].Margin) {
				return out[i].Margin.GreaterThan(out[j].Margin)
			}
			if !out[i].Diff.Equal(out[j].Diff) {
				return out[i].Diff.GreaterThan(out[j].Diff)
			}
			return out[i].Key < out[j].Key
		})
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats is the aggregate projection returned by Stats().
type Stats struct {
	Count       int             `json:"count"`
	MeanDiff    decimal.Decimal `json:"mean_diff"`
	MinDiff     decimal.Decimal `json:"min_diff"`
	MaxDiff     decimal.Decimal `json:"max_diff"`
	MeanMargin  decimal.Decimal `json:"mean_margin"`
	MinMargin   decimal.Decimal `json:"min_margin"`
	MaxMargin   decimal.Decimal `json:"max_margin"`
	LastBuiltAt time.Time       `json:"last_built_at"`
}

// Stats computes count and min/max/mean diff and margin over the
// current ResultSet.
func (s *Surface) Stats() Stats {
	rs := s.source.Current()
	if rs == nil || len(rs.Pairs) == 0 {
		return Stats{}
	}

	sumDiff := decimal.Zero
	sumMargin := decimal.Zero
	minDiff, maxDiff := rs.Pairs[0].Diff, rs.Pairs[0].Diff
	minMargin, maxMargin := rs.Pairs[0].Margin, rs.Pairs[0].Margin

	for _, p := range rs.Pairs {
		sumDiff = sumDiff.Add(p.Diff)
		sumMargin = sumMargin.Add(p.Margin)
		if p.Diff.LessThan(minDiff) {
			minDiff = p.Diff
		}
		if p.Diff.GreaterThan(maxDiff) {
			maxDiff = p.Diff
		}
		if p.Margin.LessThan(minMargin) {
			minMargin = p.Margin
		}
		if p.Margin.GreaterThan(maxMargin) {
			maxMargin = p.Margin
		}
	}

	n := decimal.NewFromInt(int64(len(rs.Pairs)))
	return Stats{
		Count:       len(rs.Pairs),
		MeanDiff:    sumDiff.Div(n),
		MinDiff:     minDiff,
		MaxDiff:     maxDiff,
		MeanMargin:  sumMargin.Div(n),
		MinMargin:   minMargin,
		MaxMargin:   maxMargin,
		LastBuiltAt: rs.BuiltAt,
	}
}

// Status proxies the orchestrator's phase/progress/last-error and
// attaches the scheduler's next-tick time.
func (s *Surface) Status() Status {
	st := Status{Status: s.source.Status()}
	if s.ticks != nil {
		st.NextTick = s.ticks.NextTick()
	}
	return st
}
