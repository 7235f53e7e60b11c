// Package quota persists per-provider daily download counters and advances
// each provider's reset window lazily, on read.
package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/pkg/types"
)

// Ledger is the process-wide {provider_key -> QuotaState} map described in
// the external state file's "quota" section.
type Ledger struct {
	mu    sync.Mutex
	clock clock.Clock
	state map[string]*types.QuotaState
}

// New returns an empty Ledger.
func New(c clock.Clock) *Ledger {
	return &Ledger{clock: c, state: make(map[string]*types.QuotaState)}
}

// Register ensures providerKey has a QuotaState, seeding it from cfg the
// first time it's seen. Existing state (e.g. loaded from disk) is left
// untouched except for dailyLimit/resetHours/waitOnExhaustion, which always
// track the current config.
func (l *Ledger) Register(providerKey string, cfg types.QuotaConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.state[providerKey]
	if !ok {
		st = &types.QuotaState{
			ProviderKey:      providerKey,
			WindowStartWall:  l.clock.Now(),
			WaitOnExhaustion: cfg.WaitForReset,
		}
		l.state[providerKey] = st
	}
	st.DailyLimit = cfg.DailyLimit
	st.ResetHours = cfg.ResetHours
	st.WaitOnExhaustion = cfg.WaitForReset
}

// advanceLocked rolls the window forward while it is stale. Called with l.mu held.
func (l *Ledger) advanceLocked(st *types.QuotaState) {
	if st.ResetHours <= 0 {
		return
	}
	now := l.clock.Now()
	for now.Sub(st.WindowStartWall) >= time.Duration(st.ResetHours*float64(time.Hour)) {
		st.WindowStartWall = st.WindowStartWall.Add(time.Duration(st.ResetHours * float64(time.Hour)))
		st.UsedToday = 0
	}
}

// CanDownload reports whether providerKey has remaining daily quota, after
// advancing its window if stale.
func (l *Ledger) CanDownload(providerKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.state[providerKey]
	if !ok {
		return true
	}
	l.advanceLocked(st)
	return !st.Exhausted()
}

// RecordDownload increments used_today for a successful quota-gated download.
func (l *Ledger) RecordDownload(providerKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.state[providerKey]
	if !ok {
		return
	}
	l.advanceLocked(st)
	st.UsedToday++
}

// NextReset returns the wall time providerKey's window next advances, and
// whether that provider is configured to wait out the window rather than
// fall back immediately.
func (l *Ledger) NextReset(providerKey string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.state[providerKey]
	if !ok {
		return l.clock.Now(), false
	}
	l.advanceLocked(st)
	return st.NextReset(), st.WaitOnExhaustion
}

// Status returns a snapshot copy of every tracked provider's quota state,
// for the quota-status CLI surface.
func (l *Ledger) Status() map[string]types.QuotaState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]types.QuotaState, len(l.state))
	for k, v := range l.state {
		l.advanceLocked(v)
		out[k] = *v
	}
	return out
}

// stateFile mirrors the external state file's top-level shape so the
// quota ledger and deferred queue can be persisted together.
type stateFile struct {
	Quota    map[string]*types.QuotaState `json:"quota"`
	Deferred []types.DeferredItem         `json:"deferred"`
	Version  int                          `json:"version"`
}

// Load reads path's state document. A missing file is not an error; the
// ledger starts empty. The deferred items are returned as decoded from the
// file so the caller (internal/deferred) can restore its own queue.
func Load(path string) (map[string]*types.QuotaState, []types.DeferredItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*types.QuotaState{}, nil, nil
		}
		return nil, nil, &types.IOError{Op: "read state file", Err: err}
	}
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, &types.IOError{Op: "parse state file", Err: err}
	}
	if sf.Quota == nil {
		sf.Quota = map[string]*types.QuotaState{}
	}
	return sf.Quota, sf.Deferred, nil
}

// Restore replaces the ledger's in-memory state with previously persisted
// quota states (used on startup, before Register fills in any new
// providers from config).
func (l *Ledger) Restore(states map[string]*types.QuotaState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range states {
		l.state[k] = v
	}
}

// Save writes the combined quota+deferred state document to path via
// write-temp-then-rename, so a crash mid-write never corrupts the previous
// good state.
func Save(path string, quotaState map[string]*types.QuotaState, deferred []types.DeferredItem) error {
	sf := stateFile{Quota: quotaState, Deferred: deferred, Version: 1}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return &types.IOError{Op: "marshal state file", Err: err}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &types.IOError{Op: "mkdir state dir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return &types.IOError{Op: "create temp state file", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &types.IOError{Op: "write temp state file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &types.IOError{Op: "close temp state file", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &types.IOError{Op: "rename temp state file", Err: err}
	}
	return nil
}

// Snapshot returns the current in-memory quota states, for Save.
func (l *Ledger) Snapshot() map[string]*types.QuotaState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*types.QuotaState, len(l.state))
	for k, v := range l.state {
		cp := *v
		out[k] = &cp
	}
	return out
}

// FormatStatus renders a human-readable quota-status line for one provider.
func FormatStatus(st types.QuotaState) string {
	if st.DailyLimit <= 0 {
		return fmt.Sprintf("%s: unlimited (used %d today)", st.ProviderKey, st.UsedToday)
	}
	return fmt.Sprintf("%s: %d/%d used, resets %s", st.ProviderKey, st.UsedToday, st.DailyLimit, st.NextReset().Format(time.RFC3339))
}
