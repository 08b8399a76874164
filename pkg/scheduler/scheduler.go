// Package scheduler implements the periodic driver (C7): a heavy
// cadence that triggers full refreshes and a light cadence that
// triggers incremental ones. A tick that finds the orchestrator's
// exclusion lock held is skipped rather than queued.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/skinarb/skinarb/pkg/config"
	"github.com/skinarb/skinarb/pkg/logger"
)

// Refresher is the subset of the orchestrator a Scheduler drives.
type Refresher interface {
	RefreshFull(ctx context.Context) error
	RefreshIncremental(ctx context.Context) error
}

// Scheduler ticks at the heavy and light cadences read live from the
// configuration store, launching full or incremental refreshes. It
// never blocks a tick waiting for a refresh: if the orchestrator
// rejects the call with AlreadyRunning, the tick is simply skipped.
type Scheduler struct {
	refresher Refresher
	cfg       *config.Store
	log       logger.Logger

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	nextHeavy time.Time
	nextLight time.Time
}

// New builds a Scheduler over refresher, reading cadences from cfg on
// every tick so live reconfiguration takes effect without a restart.
func New(refresher Refresher, cfg *config.Store) *Scheduler {
	return &Scheduler{refresher: refresher, cfg: cfg, log: logger.Component("scheduler")}
}

// NextTicks reports the next scheduled heavy (full refresh) and light
// (incremental refresh) firing times. Either is the zero Time if the
// scheduler has not been started yet.
func (s *Scheduler) NextTicks() (heavy, light time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextHeavy, s.nextLight
}

// NextTick returns the earlier of the two upcoming cadence firings, the
// value status() surfaces as "scheduler next-tick" (§4.9, §6). It is the
// zero Time if the scheduler has not been started yet.
func (s *Scheduler) NextTick() time.Time {
	heavy, light := s.NextTicks()
	switch {
	case heavy.IsZero():
		return light
	case light.IsZero():
		return heavy
	case light.Before(heavy):
		return light
	default:
		return heavy
	}
}

// Start launches the heavy and light tickers in the background. It is
// a no-op if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop halts the tickers and waits for the run loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop := s.stop
	done := s.done
	s.mu.Unlock()

	close(stop)
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	params := s.cfg.Snapshot()
	heavy := time.NewTicker(params.HeavyCadence)
	light := time.NewTicker(params.LightCadence)
	defer heavy.Stop()
	defer light.Stop()

	s.setNextTicks(time.Now().Add(params.HeavyCadence), time.Now().Add(params.LightCadence))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-heavy.C:
			s.fire(ctx, s.refresher.RefreshFull, "heavy")
			cadence := s.cfg.Snapshot().HeavyCadence
			heavy.Reset(cadence)
			s.setNextHeavy(time.Now().Add(cadence))
		case <-light.C:
			s.fire(ctx, s.refresher.RefreshIncremental, "light")
			cadence := s.cfg.Snapshot().LightCadence
			light.Reset(cadence)
			s.setNextLight(time.Now().Add(cadence))
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, refresh func(context.Context) error, cadence string) {
	if err := refresh(ctx); err != nil {
		s.log.With(logger.Fields{"cadence": cadence}).Debug("tick skipped or failed: %v", err)
	}
}

func (s *Scheduler) setNextTicks(heavy, light time.Time) {
	s.mu.Lock()
	s.nextHeavy = heavy
	s.nextLight = light
	s.mu.Unlock()
}

func (s *Scheduler) setNextHeavy(t time.Time) {
	s.mu.Lock()
	s.nextHeavy = t
	s.mu.Unlock()
}

func (s *Scheduler) setNextLight(t time.Time) {
	s.mu.Lock()
	s.nextLight = t
	s.mu.Unlock()
}
