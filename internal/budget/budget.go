// Package budget tracks bytes/files consumed per content class at total and
// per-work scope, granting or denying pre-flight reservations and enforcing
// the configured skip/stop policy on exceed.
package budget

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/pdiddy/archivist/pkg/types"
)

// Accountant is the Budget Accountant component: one process-wide instance
// holds the total-scope counters; per_work counters reset on begin_work.
type Accountant struct {
	mu sync.Mutex

	limits map[types.BudgetScope]map[types.ContentClass]types.ClassLimit
	used   map[types.BudgetScope]map[types.ContentClass]types.Counter

	policy types.ExceedPolicy

	// stopped is set once a PolicyStop violation has fired, so callers can
	// detect the scheduler-drain signal.
	stopped bool
}

// Limits bundles the normalized (bytes already converted from GB/MB) class
// limits for both scopes, as produced by internal/config.
type Limits struct {
	Total   map[types.ContentClass]types.ClassLimit
	PerWork map[types.ContentClass]types.ClassLimit
}

// New builds an Accountant from normalized limits and the configured
// on_exceed policy.
func New(limits Limits, policy types.ExceedPolicy) *Accountant {
	a := &Accountant{
		limits: map[types.BudgetScope]map[types.ContentClass]types.ClassLimit{
			types.ScopeTotal:   limits.Total,
			types.ScopePerWork: limits.PerWork,
		},
		used: map[types.BudgetScope]map[types.ContentClass]types.Counter{
			types.ScopeTotal:   {},
			types.ScopePerWork: {},
		},
		policy: policy,
	}
	return a
}

// BeginWork resets the per-work counters for a newly started work.
func (a *Accountant) BeginWork() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used[types.ScopePerWork] = map[types.ContentClass]types.Counter{}
}

// Stopped reports whether a stop-policy violation has occurred, at which
// point the scheduler must drain and the process must exit with the
// budget-stop exit code.
func (a *Accountant) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// Reserve performs the pre-flight check for estimatedBytes against every
// applicable limit (total and per-work) for class. If estimatedBytes is 0
// (unknown/streaming size), the reservation is granted unconditionally and
// the caller must account actuals via Account as the stream progresses.
func (a *Accountant) Reserve(class types.ContentClass, estimatedBytes int64) error {
	if estimatedBytes <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, scope := range []types.BudgetScope{types.ScopeTotal, types.ScopePerWork} {
		limit, ok := a.limits[scope][class]
		if !ok || limit.Bytes == 0 {
			continue
		}
		cur := a.used[scope][class]
		if cur.Bytes+estimatedBytes > limit.Bytes {
			return a.violate(scope, class)
		}
	}
	return nil
}

// Account commits actualBytes for one completed (or in-progress, for
// streaming truncation checks) artifact write of the given class. It
// returns a *types.BudgetExceeded the first time any applicable limit is
// crossed; callers streaming a download must check the error after every
// chunk and truncate/delete the file on first violation.
func (a *Accountant) Account(class types.ContentClass, actualBytes int64, newFile bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	scopes := []types.BudgetScope{types.ScopeTotal, types.ScopePerWork}
	for _, scope := range scopes {
		c := a.used[scope][class]
		c.Bytes += actualBytes
		if newFile {
			c.Files++
		}
		a.used[scope][class] = c
	}
	for _, scope := range scopes {
		c := a.used[scope][class]
		limit, ok := a.limits[scope][class]
		if !ok {
			continue
		}
		if (limit.Bytes > 0 && c.Bytes > limit.Bytes) || (limit.Files > 0 && c.Files > limit.Files) {
			return a.violate(scope, class)
		}
	}
	return nil
}

func (a *Accountant) violate(scope types.BudgetScope, class types.ContentClass) error {
	if a.policy == types.PolicyStop {
		a.stopped = true
	}
	return &types.BudgetExceeded{Scope: string(scope), Class: string(class)}
}

// Snapshot returns a human-readable summary line for one (scope, class)
// cell. The per-run summary (internal/summary) formats its own lines from
// Used and does not call Snapshot.
func (a *Accountant) Snapshot(scope types.BudgetScope, class types.ContentClass) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.used[scope][class]
	return fmt.Sprintf("%s/%s: %s across %d files", scope, class, humanize.Bytes(uint64(c.Bytes)), c.Files)
}

// Used returns a copy of the current counters for one scope, for the
// per-run summary.
func (a *Accountant) Used(scope types.BudgetScope) map[types.ContentClass]types.Counter {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[types.ContentClass]types.Counter, len(a.used[scope]))
	for k, v := range a.used[scope] {
		out[k] = v
	}
	return out
}

// ClassForExt derives the content class from an artifact's file extension,
// per the pdf/epub -> pdf, image extension -> image, json/xml -> metadata
// mapping.
func ClassForExt(ext string) types.ContentClass {
	switch ext {
	case ".pdf", ".epub":
		return types.ClassPDF
	case ".jpg", ".jpeg", ".png", ".jp2", ".tif", ".tiff", ".gif", ".bmp", ".webp":
		return types.ClassImage
	case ".json", ".xml":
		return types.ClassMetadata
	default:
		return types.ClassMetadata
	}
}

// GBToBytes normalizes a GB quantity into bytes (1 GB = 1e9 bytes), matching
// the original's _gb_to_bytes helper.
func GBToBytes(gb float64) int64 {
	if gb <= 0 {
		return 0
	}
	return int64(gb * 1e9)
}

// MBToBytes normalizes an MB quantity into bytes (1 MB = 1e6 bytes).
func MBToBytes(mb float64) int64 {
	if mb <= 0 {
		return 0
	}
	return int64(mb * 1e6)
}
