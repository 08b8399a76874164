package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/skinarb/skinarb/pkg/config"
	skerrors "github.com/skinarb/skinarb/pkg/errors"
	"github.com/skinarb/skinarb/pkg/keycache"
	"github.com/skinarb/skinarb/pkg/marketplace"
)

type staticFetcher struct {
	items []marketplace.Item
}

func (f staticFetcher) FetchPage(ctx context.Context, page, pageSize int) ([]marketplace.Item, int, error) {
	if page > 1 {
		return nil, 1, nil
	}
	return f.items, 1, nil
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func mkItem(key, price string) marketplace.Item {
	return marketplace.Item{Key: key, DisplayName: key, Price: dec(price), SourceLink: "https://example.com/" + key}
}

func newTestOrchestrator(t *testing.T, a, b staticFetcher) (*Orchestrator, *keycache.Cache, *config.Store) {
	t.Helper()
	keys, err := keycache.New(filepath.Join(t.TempDir(), "keys.json"))
	if err != nil {
		t.Fatalf("keycache.New() error: %v", err)
	}
	cfg := config.New(func() { _ = keys.Clear() })
	return New(a, b, keys, cfg), keys, cfg
}

func TestRefreshFull_HappyPath(t *testing.T) {
	a := staticFetcher{items: []marketplace.Item{mkItem("K1", "100"), mkItem("K2", "50")}}
	b := staticFetcher{items: []marketplace.Item{mkItem("K1", "104"), mkItem("K2", "60")}}
	o, keys, _ := newTestOrchestrator(t, a, b)

	if err := o.RefreshFull(context.Background()); err != nil {
		t.Fatalf("RefreshFull() error: %v", err)
	}

	rs := o.Current()
	if rs == nil || len(rs.Pairs) != 1 || rs.Pairs[0].Key != "K1" {
		t.Fatalf("expected single K1 pair (K2 diff=10 out of band), got %+v", rs)
	}
	if len(keys.GetKeys()) != 1 {
		t.Errorf("expected key cache to hold 1 key after full refresh")
	}
}

func TestRefreshFull_BothEmptyYieldsUpstreamUnavailable(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, staticFetcher{}, staticFetcher{})

	err := o.RefreshFull(context.Background())
	if !skerrors.ErrUpstreamUnavailable.Is(err) && err != skerrors.ErrUpstreamUnavailable {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if o.Current() != nil {
		t.Error("expected prior (nil) ResultSet to be preserved on failure")
	}
}

func TestRefreshFull_AlreadyRunningRejectsConcurrentCall(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, staticFetcher{items: []marketplace.Item{mkItem("K1", "100")}}, staticFetcher{items: []marketplace.Item{mkItem("K1", "104")}})

	o.lockMu.Lock()
	o.locked = true
	o.lockMu.Unlock()

	err := o.RefreshFull(context.Background())
	if err != skerrors.ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRefreshIncremental_DegradesToFullWhenCacheEmpty(t *testing.T) {
	a := staticFetcher{items: []marketplace.Item{mkItem("K1", "100")}}
	b := staticFetcher{items: []marketplace.Item{mkItem("K1", "104")}}
	o, _, _ := newTestOrchestrator(t, a, b)

	if err := o.RefreshIncremental(context.Background()); err != nil {
		t.Fatalf("RefreshIncremental() error: %v", err)
	}
	if o.Current() == nil || len(o.Current().Pairs) != 1 {
		t.Fatalf("expected degraded full refresh to populate ResultSet")
	}
}

func TestRefreshIncremental_RetainsStaleKeysStillInteresting(t *testing.T) {
	a := staticFetcher{items: []marketplace.Item{mkItem("K1", "100"), mkItem("K2", "50")}}
	b := staticFetcher{items: []marketplace.Item{mkItem("K1", "104"), mkItem("K2", "54")}}
	o, keys, _ := newTestOrchestrator(t, a, b)
	if err := o.RefreshFull(context.Background()); err != nil {
		t.Fatalf("seed RefreshFull() error: %v", err)
	}
	seeded := o.Current()
	if len(seeded.Pairs) != 2 {
		t.Fatalf("expected both K1 and K2 matched on seed refresh, got %+v", seeded.Pairs)
	}
	_ = keys.Replace([]string{"K1", "K2"})

	o.aFetcher = staticFetcher{items: []marketplace.Item{mkItem("K1", "100")}}

	if err := o.RefreshIncremental(context.Background()); err != nil {
		t.Fatalf("RefreshIncremental() error: %v", err)
	}
	rs := o.Current()
	found := map[string]bool{}
	for _, p := range rs.Pairs {
		found[p.Key] = true
	}
	if !found["K1"] {
		t.Error("expected K1 to be refreshed in the incremental scan")
	}
	if !found["K2"] {
		t.Error("expected K2, absent from the scan but still interesting, to be retained from the prior set")
	}
}

func TestRefreshIncremental_NeverMutatesInterestingKeyCache(t *testing.T) {
	a := staticFetcher{items: []marketplace.Item{mkItem("K1", "100"), mkItem("K2", "50")}}
	b := staticFetcher{items: []marketplace.Item{mkItem("K1", "104"), mkItem("K2", "54")}}
	o, keys, _ := newTestOrchestrator(t, a, b)
	if err := o.RefreshFull(context.Background()); err != nil {
		t.Fatalf("seed RefreshFull() error: %v", err)
	}
	seededKeys := append([]string(nil), keys.GetKeys()...)

	// Next incremental scan only turns up K1; K2 would drop out of the
	// interesting set if incremental refresh were allowed to persist it.
	o.aFetcher = staticFetcher{items: []marketplace.Item{mkItem("K1", "100")}}
	if err := o.RefreshIncremental(context.Background()); err != nil {
		t.Fatalf("RefreshIncremental() error: %v", err)
	}

	afterKeys := keys.GetKeys()
	if len(afterKeys) != len(seededKeys) {
		t.Fatalf("expected interesting-key cache untouched by incremental refresh, before=%v after=%v", seededKeys, afterKeys)
	}
}

func TestStatus_ReflectsLastError(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, staticFetcher{}, staticFetcher{})
	_ = o.RefreshFull(context.Background())

	st := o.Status()
	if st.LastError == "" {
		t.Error("expected last error to be recorded after UpstreamUnavailable")
	}
	if st.Progress.Phase != PhaseIdle {
		t.Errorf("expected phase to return to IDLE, got %s", st.Progress.Phase)
	}
}
