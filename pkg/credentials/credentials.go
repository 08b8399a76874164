// Package credentials implements the Credential Store (C1): the
// late-bound, per-marketplace authentication material read fresh by the
// rate-limited clients on every request, so tokens can rotate without a
// restart.
package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	skerrors "github.com/skinarb/skinarb/pkg/errors"
	"github.com/skinarb/skinarb/pkg/logger"
	"github.com/skinarb/skinarb/pkg/marketplace"
)

// requiredFields lists the named fields that must be non-blank before a
// marketplace's record is considered CONFIGURED.
var requiredFields = map[marketplace.ID][]string{
	marketplace.A: {"session", "csrf"},
	marketplace.B: {"device_id", "user_key", "authorization"},
}

// Record is one marketplace's credential bag.
type Record struct {
	Headers     map[string]string `json:"headers"`
	Cookies     map[string]string `json:"cookies"`
	Fields      map[string]string `json:"fields"`
	Configured  bool              `json:"configured"`
	LastUpdated time.Time         `json:"last_updated"`
}

func newRecord() *Record {
	return &Record{
		Headers: map[string]string{},
		Cookies: map[string]string{},
		Fields:  map[string]string{},
	}
}

func (r *Record) clone() *Record {
	c := &Record{
		Headers:     make(map[string]string, len(r.Headers)),
		Cookies:     make(map[string]string, len(r.Cookies)),
		Fields:      make(map[string]string, len(r.Fields)),
		Configured:  r.Configured,
		LastUpdated: r.LastUpdated,
	}
	for k, v := range r.Headers {
		c.Headers[k] = v
	}
	for k, v := range r.Cookies {
		c.Cookies[k] = v
	}
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return c
}

// StatusInfo is the read-only projection returned by Status().
type StatusInfo struct {
	Configured    bool      `json:"configured"`
	LastUpdated   time.Time `json:"last_updated"`
	PopulatedKeys []string  `json:"populated_fields"`
}

// TestResult is the outcome of Store.Test.
type TestResult struct {
	OK            bool   `json:"ok"`
	ItemsObserved int    `json:"items_observed"`
	Error         string `json:"error,omitempty"`
}

// TestFunc performs one minimal authenticated catalogue read through a
// marketplace's rate-limited client; it never mutates store state.
type TestFunc func(ctx context.Context, id marketplace.ID) (itemsObserved int, err error)

type fileFormat struct {
	Records map[marketplace.ID]*Record `json:"records"`
}

// Store holds both marketplaces' credentials and persists them to a
// single JSON file with write-to-temp-then-rename semantics.
type Store struct {
	mu   sync.RWMutex
	path string
	recs map[marketplace.ID]*Record
}

// New loads a Store from path, creating empty CONFIGURED=false records
// for both marketplaces if the file does not yet exist.
func New(path string) (*Store, error) {
	s := &Store{
		path: path,
		recs: map[marketplace.ID]*Record{
			marketplace.A: newRecord(),
			marketplace.B: newRecord(),
		},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, skerrors.Wrap(skerrors.CodePersistFailed, "read credential store", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, skerrors.Wrap(skerrors.CodePersistFailed, "parse credential store", err)
	}
	for id, rec := range ff.Records {
		if rec != nil {
			s.recs[id] = rec
		}
	}
	return s, nil
}

// Get returns a snapshot of the named fields, headers, and cookies for a
// marketplace. It never blocks on I/O.
func (s *Store) Get(id marketplace.ID) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return newRecord()
	}
	return rec.clone()
}

// Update merges fields/headers into the live record, validates required
// fields are present, stamps LastUpdated, and persists the whole store
// atomically. The live record is left untouched if validation or the
// write fails.
func (s *Store) Update(id marketplace.ID, fields map[string]string, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.recs[id]
	if !ok {
		existing = newRecord()
	}
	merged := existing.clone()
	for k, v := range fields {
		merged.Fields[k] = v
	}
	for k, v := range headers {
		merged.Headers[k] = v
	}

	for _, req := range requiredFields[id] {
		if merged.Fields[req] == "" {
			return skerrors.New(skerrors.CodeValidationFailed, "missing required field: "+req)
		}
	}

	merged.Configured = true
	merged.LastUpdated = time.Now().UTC()

	next := make(map[marketplace.ID]*Record, len(s.recs))
	for k, v := range s.recs {
		next[k] = v
	}
	next[id] = merged

	if err := persistAtomic(s.path, fileFormat{Records: next}); err != nil {
		return skerrors.Wrap(skerrors.CodePersistFailed, "write credential store", err)
	}

	s.recs = next
	logger.Info("credentials: marketplace %s configured", id)
	return nil
}

// Test performs one minimal authenticated catalogue read via fn and
// reports the outcome without mutating the store.
func (s *Store) Test(ctx context.Context, id marketplace.ID, fn TestFunc) TestResult {
	n, err := fn(ctx, id)
	if err != nil {
		return TestResult{OK: false, Error: err.Error()}
	}
	return TestResult{OK: true, ItemsObserved: n}
}

// Status returns per-marketplace configuration flags.
func (s *Store) Status() map[marketplace.ID]StatusInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[marketplace.ID]StatusInfo, len(s.recs))
	for id, rec := range s.recs {
		keys := make([]string, 0, len(rec.Fields))
		for k, v := range rec.Fields {
			if v != "" {
				keys = append(keys, k)
			}
		}
		out[id] = StatusInfo{
			Configured:    rec.Configured,
			LastUpdated:   rec.LastUpdated,
			PopulatedKeys: keys,
		}
	}
	return out
}

func persistAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
