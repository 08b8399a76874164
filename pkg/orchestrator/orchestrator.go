// Package orchestrator implements the Update Orchestrator (C6): it
// drives full and incremental refreshes, holds the single exclusion
// lock that keeps the scheduler from overlapping runs, and publishes
// the current ResultSet through an atomic pointer swap so readers
// never observe a half-built set.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	skerrors "github.com/skinarb/skinarb/pkg/errors"
	"github.com/skinarb/skinarb/pkg/config"
	"github.com/skinarb/skinarb/pkg/fetcher"
	"github.com/skinarb/skinarb/pkg/keycache"
	"github.com/skinarb/skinarb/pkg/logger"
	"github.com/skinarb/skinarb/pkg/marketplace"
	"github.com/skinarb/skinarb/pkg/matcher"
)

// Phase is one state in the orchestrator's state machine:
// IDLE -> RUNNING_FULL|RUNNING_INCR -> IDLE.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseRunningFull  Phase = "RUNNING_FULL"
	PhaseRunningIncr  Phase = "RUNNING_INCR"
)

// Progress is the in-flight snapshot exposed through Status.
type Progress struct {
	Phase         Phase
	PagesDone     int
	PagesTotal    int
	MatchesSoFar  int
}

// Status is the read-only projection of orchestrator state (C9 status()).
type Status struct {
	Progress          Progress
	LastError         string
	LastFullRefreshAt time.Time
	Cancelled         bool
}

// Orchestrator coordinates one full/incremental refresh cycle at a
// time over the two marketplace fetchers, the interesting-key cache,
// and the live configuration.
type Orchestrator struct {
	lockMu sync.Mutex
	locked bool
	cancel context.CancelFunc

	stateMu           sync.Mutex
	progress          Progress
	lastError         error
	lastFullRefreshAt time.Time

	resultSet atomic.Pointer[marketplace.ResultSet]

	aFetcher fetcher.PageFetcher
	bFetcher fetcher.PageFetcher
	keys     *keycache.Cache
	cfg      *config.Store
	log      logger.Logger
}

// New builds an Orchestrator over the two marketplace fetchers
// (already adapted to fetcher.PageFetcher), the shared key cache, and
// the shared configuration store.
func New(aFetcher, bFetcher fetcher.PageFetcher, keys *keycache.Cache, cfg *config.Store) *Orchestrator {
	return &Orchestrator{
		aFetcher: aFetcher,
		bFetcher: bFetcher,
		keys:     keys,
		cfg:      cfg,
		progress: Progress{Phase: PhaseIdle},
		log:      logger.Component("orchestrator"),
	}
}

// Current returns the currently published ResultSet, or nil if no
// refresh has ever completed.
func (o *Orchestrator) Current() *marketplace.ResultSet {
	return o.resultSet.Load()
}

// Status reports the orchestrator's current phase, progress, and last
// recorded error. It never blocks on a running refresh.
func (o *Orchestrator) Status() Status {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	s := Status{Progress: o.progress, LastFullRefreshAt: o.lastFullRefreshAt}
	if o.lastError != nil {
		s.LastError = o.lastError.Error()
	}
	return s
}

// Cancel sets the cancellation token observed by the in-flight
// refresh's pacing waits, retry waits, and page boundaries. A no-op if
// no refresh is running.
func (o *Orchestrator) Cancel() {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) tryAcquire(ctx context.Context) (context.Context, error) {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	if o.locked {
		return nil, skerrors.ErrAlreadyRunning
	}
	o.locked = true
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	return runCtx, nil
}

func (o *Orchestrator) release() {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	o.locked = false
	o.cancel = nil
}

func (o *Orchestrator) setProgress(p Progress) {
	o.stateMu.Lock()
	o.progress = p
	o.stateMu.Unlock()
}

// RefreshFull acquires the exclusion lock, fetches both marketplaces'
// full catalogues concurrently, matches and ranks them, atomically
// publishes the result, and replaces the interesting-key cache.
// Returns ErrAlreadyRunning if a refresh is already in flight.
func (o *Orchestrator) RefreshFull(ctx context.Context) error {
	runCtx, err := o.tryAcquire(ctx)
	if err != nil {
		return err
	}
	defer o.release()
	defer o.cancel()

	o.setProgress(Progress{Phase: PhaseRunningFull})
	params := o.cfg.Snapshot()

	resA, resB, cancelled := o.fetchBoth(runCtx, params)
	if cancelled {
		o.setProgress(Progress{Phase: PhaseIdle})
		return nil
	}

	if resA.TotalItems == 0 && resB.TotalItems == 0 {
		o.recordError(skerrors.ErrUpstreamUnavailable)
		o.setProgress(Progress{Phase: PhaseIdle})
		return skerrors.ErrUpstreamUnavailable
	}

	rs := matcher.Run(resA.Items, resB.Items, params)
	o.publish(rs)
	o.replaceInterestingKeys(rs)

	o.stateMu.Lock()
	o.lastFullRefreshAt = time.Now().UTC()
	o.lastError = nil
	o.stateMu.Unlock()
	o.setProgress(Progress{Phase: PhaseIdle, MatchesSoFar: len(rs.Pairs)})

	o.log.With(logger.Fields{"phase": PhaseRunningFull}).Info("refresh complete, %d pairs", len(rs.Pairs))
	return nil
}

// RefreshIncremental degrades to a full refresh when the interesting-key
// cache is empty (fresh boot or post-invalidation). Otherwise it fetches
// both catalogues in full (the upstreams offer no key-scoped read),
// restricts the A side to items whose key is in the cache, matches, and
// merges the partial result into the prior ResultSet by key.
func (o *Orchestrator) RefreshIncremental(ctx context.Context) error {
	interesting := o.keys.GetKeys()
	if len(interesting) == 0 {
		return o.RefreshFull(ctx)
	}

	runCtx, err := o.tryAcquire(ctx)
	if err != nil {
		return err
	}
	defer o.release()
	defer o.cancel()

	o.setProgress(Progress{Phase: PhaseRunningIncr})
	params := o.cfg.Snapshot()

	resA, resB, cancelled := o.fetchBoth(runCtx, params)
	if cancelled {
		o.setProgress(Progress{Phase: PhaseIdle})
		return nil
	}

	if resA.TotalItems == 0 && resB.TotalItems == 0 {
		o.recordError(skerrors.ErrUpstreamUnavailable)
		o.setProgress(Progress{Phase: PhaseIdle})
		return skerrors.ErrUpstreamUnavailable
	}

	wanted := make(map[string]struct{}, len(interesting))
	for _, k := range interesting {
		wanted[k] = struct{}{}
	}
	restrictedA := make([]marketplace.Item, 0, len(resA.Items))
	for _, item := range resA.Items {
		if _, ok := wanted[item.Key]; ok {
			restrictedA = append(restrictedA, item)
		}
	}

	partial := matcher.Run(restrictedA, resB.Items, params)
	merged := o.mergeWithPrior(partial, wanted)
	o.publish(merged)

	o.stateMu.Lock()
	o.lastError = nil
	o.stateMu.Unlock()
	o.setProgress(Progress{Phase: PhaseIdle, MatchesSoFar: len(merged.Pairs)})

	o.log.With(logger.Fields{"phase": PhaseRunningIncr}).Info("refresh complete, %d pairs", len(merged.Pairs))
	return nil
}

// mergeWithPrior combines a freshly-matched partial set with the
// previously published ResultSet: new entries replace old ones by key;
// old entries not present in the new scan survive only if their key is
// still in the interesting set.
func (o *Orchestrator) mergeWithPrior(partial marketplace.ResultSet, stillInteresting map[string]struct{}) marketplace.ResultSet {
	prior := o.resultSet.Load()
	byKey := make(map[string]marketplace.Pair, len(partial.Pairs))
	for _, p := range partial.Pairs {
		byKey[p.Key] = p
	}
	if prior != nil {
		for _, p := range prior.Pairs {
			if _, replaced := byKey[p.Key]; replaced {
				continue
			}
			if _, keep := stillInteresting[p.Key]; keep {
				byKey[p.Key] = p
			}
		}
	}

	merged := make([]marketplace.Pair, 0, len(byKey))
	for _, p := range byKey {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Margin.Equal(merged[j].Margin) {
			return merged[i].Margin.GreaterThan(merged[j].Margin)
		}
		if !merged[i].Diff.Equal(merged[j].Diff) {
			return merged[i].Diff.GreaterThan(merged[j].Diff)
		}
		return merged[i].Key < merged[j].Key
	})

	counts := map[marketplace.MatchedBy]int{}
	for _, p := range merged {
		counts[p.MatchedBy]++
	}

	return marketplace.ResultSet{Pairs: merged, BuiltAt: time.Now().UTC(), MatchCounts: counts}
}

func (o *Orchestrator) fetchBoth(ctx context.Context, params config.Params) (fetcher.Result, fetcher.Result, bool) {
	var resA, resB fetcher.Result
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		resA, _ = fetcher.Run(ctx, o.aFetcher, params.AMaxPages, params.APageSize)
	}()
	go func() {
		defer wg.Done()
		resB, _ = fetcher.Run(ctx, o.bFetcher, params.BMaxPages, params.BPageSize)
	}()
	wg.Wait()

	return resA, resB, resA.Cancelled || resB.Cancelled
}

func (o *Orchestrator) publish(rs marketplace.ResultSet) {
	o.resultSet.Store(&rs)
}

// replaceInterestingKeys overwrites the interesting-key cache (C5) with
// the keys from a completed full refresh. Only RefreshFull calls this:
// C5 is populated at the end of a full refresh and otherwise only
// narrowed by explicit invalidation, never by an incremental cycle (§3, §4.6).
func (o *Orchestrator) replaceInterestingKeys(rs marketplace.ResultSet) {
	keys := make([]string, 0, len(rs.Pairs))
	for _, p := range rs.Pairs {
		keys = append(keys, p.Key)
	}
	if err := o.keys.Replace(keys); err != nil {
		o.log.Warn("failed to persist interesting-key cache: %v", err)
	}
}

func (o *Orchestrator) recordError(err error) {
	o.stateMu.Lock()
	o.lastError = err
	o.stateMu.Unlock()
	o.log.Warn("refresh failed: %v", err)
}
