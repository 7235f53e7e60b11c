// Package deferred holds download tasks postponed by quota exhaustion or
// transient failure until a scheduled wall-clock retry time.
package deferred

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/pkg/types"
)

// Queue is the persistent, append-only FIFO of types.DeferredItem described
// in the external state file's "deferred" list.
type Queue struct {
	mu    sync.Mutex
	clock clock.Clock
	items []types.DeferredItem
}

// New returns an empty Queue.
func New(c clock.Clock) *Queue {
	return &Queue{clock: c}
}

// Restore replaces the in-memory item list with previously persisted items,
// preserving their original order (FIFO among equal ready_at times).
func (q *Queue) Restore(items []types.DeferredItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]types.DeferredItem(nil), items...)
}

// Add appends a new deferred item for workID/candidate, generating its ID,
// and returns the created item.
func (q *Queue) Add(workID string, candidate types.ScoredCandidate, reason types.DeferReason, readyAt time.Time, attemptIndex int) types.DeferredItem {
	item := types.DeferredItem{
		ID:           uuid.NewString(),
		WorkID:       workID,
		Candidate:    candidate,
		Reason:       reason,
		ReadyAt:      readyAt,
		AttemptIndex: attemptIndex,
		CreatedAt:    q.clock.Now(),
		Status:       types.StatusDeferred,
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return item
}

// MarkTerminal transitions a deferred item (by ID) to a terminal status once
// its replay attempt resolves, so the compaction sweep can later remove it.
func (q *Queue) MarkTerminal(id string, status types.WorkStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == id {
			q.items[i].Status = status
			return
		}
	}
}

// Remove deletes item id from the queue outright (used once a terminal item
// has been reflected in work.json/index.csv and no longer needs tracking).
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items[:0]
	for _, it := range q.items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	q.items = out
}

// Ready returns, in FIFO order, every non-terminal item whose ready_at has
// elapsed, up to maxN (0 means unbounded).
func (q *Queue) Ready(maxN int) []types.DeferredItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	var out []types.DeferredItem
	for _, it := range q.items {
		if it.Terminal() {
			continue
		}
		if it.ReadyForRetry(now) {
			out = append(out, it)
			if maxN > 0 && len(out) >= maxN {
				break
			}
		}
	}
	return out
}

// Compact removes every item in a terminal status older than
// types.DeferredQueueCompactionAge, per the 7-day pruning rule.
func (q *Queue) Compact() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	out := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.Terminal() && now.Sub(it.CreatedAt) >= types.DeferredQueueCompactionAge {
			removed++
			continue
		}
		out = append(out, it)
	}
	q.items = out
	return removed
}

// Snapshot returns the current items in stable (ready_at, then insertion
// order) order, for persistence and for the quota-status CLI surface.
func (q *Queue) Snapshot() []types.DeferredItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]types.DeferredItem(nil), q.items...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReadyAt.Before(out[j].ReadyAt)
	})
	return out
}

// Len returns the total number of tracked items, terminal or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
