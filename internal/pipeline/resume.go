// Package pipeline is the per-input-record lifecycle driver: resume-check,
// search-and-select, journal-write, enqueue.
package pipeline

import (
	"github.com/pdiddy/archivist/internal/journal"
	"github.com/pdiddy/archivist/pkg/types"
)

// ShouldSkip applies resume_mode to one input record before the selector
// runs, per §4.8. Grounded on original `main/unified_csv.py::get_pending_works`.
func ShouldSkip(mode, workDir string, record types.InputRecord) bool {
	switch mode {
	case "skip_completed":
		w, err := journal.Read(workDir)
		return err == nil && w != nil && w.Status == types.StatusCompleted
	case "skip_if_has_objects":
		return journal.HasObjects(workDir)
	case "resume_from_csv":
		return record.Retrievable
	case "reprocess_all":
		return false
	default:
		return false
	}
}
