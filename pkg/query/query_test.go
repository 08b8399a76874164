package query

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skinarb/skinarb/pkg/marketplace"
	"github.com/skinarb/skinarb/pkg/orchestrator"
)

type fakeSource struct {
	rs *marketplace.ResultSet
}

func (f fakeSource) Current() *marketplace.ResultSet { return f.rs }
func (f fakeSource) Status() orchestrator.Status      { return orchestrator.Status{} }

func pair(key, diff, margin string) marketplace.Pair {
	d, _ := decimal.NewFromString(diff)
	m, _ := decimal.NewFromString(margin)
	return marketplace.Pair{Key: key, Diff: d, Margin: m}
}

func TestList_FiltersByMinDiff(t *testing.T) {
	rs := &marketplace.ResultSet{Pairs: []marketplace.Pair{
		pair("a", "2.0", "0.1"),
		pair("b", "5.0", "0.2"),
	}}
	s := New(fakeSource{rs: rs}, nil)

	minDiff := decimal.NewFromInt(3)
	out := s.List(&minDiff, SortByMargin, 0)
	if len(out) != 1 || out[0].Key != "b" {
		t.Errorf("expected only b to survive min_diff=3, got %+v", out)
	}
}

func TestList_NilResultSetReturnsNil(t *testing.T) {
	s := New(fakeSource{rs: nil}, nil)
	if out := s.List(nil, SortByMargin, 0); out != nil {
		t.Errorf("expected nil for unset ResultSet, got %+v", out)
	}
}

func TestList_SortByDiffDesc(t *testing.T) {
	rs := &marketplace.ResultSet{Pairs: []marketplace.Pair{
		pair("a", "2.0", "0.5"),
		pair("b", "5.0", "0.1"),
	}}
	s := New(fakeSource{rs: rs}, nil)
	out := s.List(nil, SortByDiff, 0)
	if out[0].Key != "b" {
		t.Errorf("expected b (higher diff) first, got %s", out[0].Key)
	}
}

func TestList_LimitTruncates(t *testing.T) {
	rs := &marketplace.ResultSet{Pairs: []marketplace.Pair{
		pair("a", "3.0", "0.1"),
		pair("b", "4.0", "0.2"),
		pair("c", "5.0", "0.3"),
	}}
	s := New(fakeSource{rs: rs}, nil)
	out := s.List(nil, SortByMargin, 2)
	if len(out) != 2 {
		t.Errorf("expected limit to truncate to 2, got %d", len(out))
	}
}

func TestStats_ComputesAggregates(t *testing.T) {
	rs := &marketplace.ResultSet{
		Pairs: []marketplace.Pair{
			pair("a", "3.0", "0.1"),
			pair("b", "5.0", "0.3"),
		},
		BuiltAt: time.Now(),
	}
	s := New(fakeSource{rs: rs}, nil)
	stats := s.Stats()

	if stats.Count != 2 {
		t.Errorf("Count = %d, want 2", stats.Count)
	}
	if !stats.MinDiff.Equal(decimal.NewFromFloat(3.0)) {
		t.Errorf("MinDiff = %s, want 3.0", stats.MinDiff)
	}
	if !stats.MaxDiff.Equal(decimal.NewFromFloat(5.0)) {
		t.Errorf("MaxDiff = %s, want 5.0", stats.MaxDiff)
	}
}

func TestStats_EmptyResultSet(t *testing.T) {
	s := New(fakeSource{rs: &marketplace.ResultSet{}}, nil)
	stats := s.Stats()
	if stats.Count != 0 {
		t.Errorf("expected zero-value Stats for empty result set, got %+v", stats)
	}
}

type fakeTickSource struct {
	next time.Time
}

func (f fakeTickSource) NextTick() time.Time { return f.next }

func TestStatus_NilTickSourceLeavesNextTickZero(t *testing.T) {
	s := New(fakeSource{rs: &marketplace.ResultSet{}}, nil)
	if !s.Status().NextTick.IsZero() {
		t.Errorf("expected zero NextTick with no scheduler wired, got %v", s.Status().NextTick)
	}
}

func TestStatus_ReportsSchedulerNextTick(t *testing.T) {
	want := time.Now().Add(5 * time.Minute)
	s := New(fakeSource{rs: &marketplace.ResultSet{}}, fakeTickSource{next: want})
	if got := s.Status().NextTick; !got.Equal(want) {
		t.Errorf("NextTick = %v, want %v", got, want)
	}
}
