// Package config holds the runtime-mutable parameters that shape every
// other component (C8): diff/price bands, output cap, paging and pacing
// knobs, and scheduler cadences. All fields are validated on write and
// read back through a snapshot so readers never observe a partial
// update.
package config

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	skerrors "github.com/skinarb/skinarb/pkg/errors"
)

// Params is an immutable snapshot of the current configuration. Callers
// should treat a Params value as read-only; Store.Snapshot always
// returns a fresh copy.
type Params struct {
	DiffBandLo decimal.Decimal
	DiffBandHi decimal.Decimal

	PriceBandLo decimal.Decimal
	PriceBandHi decimal.Decimal // zero value (IsZero) means unbounded

	MaxOutput int

	AMaxPages int
	BMaxPages int
	APageSize int
	BPageSize int

	AMinDelay time.Duration
	BMinDelay time.Duration

	HeavyCadence time.Duration
	LightCadence time.Duration
}

// Default returns the documented defaults.
func Default() Params {
	return Params{
		DiffBandLo:   decimal.NewFromInt(3),
		DiffBandHi:   decimal.NewFromInt(5),
		PriceBandLo:  decimal.Zero,
		PriceBandHi:  decimal.Zero,
		MaxOutput:    300,
		AMaxPages:    100,
		BMaxPages:    50,
		APageSize:    80,
		BPageSize:    100,
		AMinDelay:    1 * time.Second,
		BMinDelay:    3 * time.Second,
		HeavyCadence: 3600 * time.Second,
		LightCadence: 300 * time.Second,
	}
}

// InvalidationHook is invoked, outside the config lock, whenever a
// filter-affecting field (diff band, price band, max output) changes.
// cmd/skinarb-server wires this to the interesting-key cache's Clear.
type InvalidationHook func()

// Store is the process-wide singleton configuration. Reads take a
// cheap copy under a read lock; writes validate the merged field set
// before committing, so a rejected update never corrupts the live
// params.
type Store struct {
	mu     sync.RWMutex
	params Params
	onFilterChange InvalidationHook
}

// New creates a Store seeded with Default() and the given invalidation
// hook (may be nil).
func New(onFilterChange InvalidationHook) *Store {
	return &Store{params: Default(), onFilterChange: onFilterChange}
}

// Snapshot returns a copy of the current parameters.
func (s *Store) Snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Update applies fn to a copy of the current parameters, validates the
// result, and commits it only if valid. It returns the validation error,
// if any; when a committed update changes a filter-affecting field,
// Update fires onFilterChange itself.
func (s *Store) Update(fn func(*Params)) error {
	s.mu.Lock()
	next := s.params
	fn(&next)
	if err := validate(next); err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.params
	s.params = next
	s.mu.Unlock()

	if filterChanged(prev, next) && s.onFilterChange != nil {
		s.onFilterChange()
	}
	return nil
}

func filterChanged(a, b Params) bool {
	return !a.DiffBandLo.Equal(b.DiffBandLo) ||
		!a.DiffBandHi.Equal(b.DiffBandHi) ||
		!a.PriceBandLo.Equal(b.PriceBandLo) ||
		!a.PriceBandHi.Equal(b.PriceBandHi) ||
		a.MaxOutput != b.MaxOutput
}

func validate(p Params) error {
	if p.DiffBandLo.IsNegative() || p.DiffBandHi.LessThan(p.DiffBandLo) {
		return skerrors.New(skerrors.CodeValidationFailed, "diff band requires 0 <= d_lo <= d_hi")
	}
	if p.PriceBandLo.IsNegative() || (!p.PriceBandHi.IsZero() && p.PriceBandHi.LessThan(p.PriceBandLo)) {
		return skerrors.New(skerrors.CodeValidationFailed, "price band requires 0 <= p_lo <= p_hi")
	}
	if p.MaxOutput < 1 || p.MaxOutput > 10000 {
		return skerrors.New(skerrors.CodeValidationFailed, "max_output must be in [1, 10000]")
	}
	if p.AMaxPages < 1 || p.BMaxPages < 1 {
		return skerrors.New(skerrors.CodeValidationFailed, "max_pages must be >= 1")
	}
	if p.APageSize < 1 || p.APageSize > 200 || p.BPageSize < 1 || p.BPageSize > 200 {
		return skerrors.New(skerrors.CodeValidationFailed, "page_size must be in [1, 200]")
	}
	if p.AMinDelay < 0 || p.BMinDelay < 0 {
		return skerrors.New(skerrors.CodeValidationFailed, "min_delay must be >= 0")
	}
	if p.HeavyCadence < 30*time.Second || p.LightCadence < 30*time.Second {
		return skerrors.New(skerrors.CodeValidationFailed, "cadences must be >= 30s")
	}
	return nil
}
