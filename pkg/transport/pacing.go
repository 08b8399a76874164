package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// PacingLimiter enforces a process-wide minimum inter-request interval
// for one marketplace (§4.2). Every caller funnels through the same
// last-request clock, so concurrent callers never race each other into
// a burst the upstream would throttle.
type PacingLimiter struct {
	mu             sync.Mutex
	minInterval    time.Duration
	lastRequestAt  time.Time
	requestCount   uint64
	everyNth       uint64
	jitterMin      time.Duration
	jitterMax      time.Duration
	rng            *rand.Rand
}

// NewPacingLimiter creates a limiter enforcing minInterval between
// requests, with an extra randomized [jitterMin,jitterMax] delay every
// everyNth request (set everyNth to 0 to disable the extra delay).
func NewPacingLimiter(minInterval time.Duration, everyNth uint64, jitterMin, jitterMax time.Duration) *PacingLimiter {
	return &PacingLimiter{
		minInterval: minInterval,
		everyNth:    everyNth,
		jitterMin:   jitterMin,
		jitterMax:   jitterMax,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until the next request is allowed to proceed, honoring
// ctx cancellation as a cancellation point.
func (p *PacingLimiter) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	wait := p.minInterval - now.Sub(p.lastRequestAt)
	if wait < 0 {
		wait = 0
	}

	p.requestCount++
	if p.everyNth > 0 && p.requestCount%p.everyNth == 0 {
		wait += p.jitterMin + time.Duration(p.rng.Int63n(int64(p.jitterMax-p.jitterMin)+1))
	}
	// Reserve this caller's slot before releasing the lock, so the next
	// caller measures its interval from it rather than from a stale clock.
	p.lastRequestAt = now.Add(wait)
	p.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SetMinInterval updates the enforced interval; takes effect on the next Wait.
func (p *PacingLimiter) SetMinInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minInterval = d
}
