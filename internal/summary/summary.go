// Package summary renders the per-run summary emitted at the end of a
// process invocation: counts by terminal status, totals by content class.
package summary

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/internal/scheduler"
	"github.com/pdiddy/archivist/pkg/types"
)

// Print writes a human-readable run summary to w: terminal-status counts
// from stats, and the process-total byte+file counters from acct. Grounded on
// original `main/execution.py`'s end-of-run logging and the teacher's
// AcquireBatch summary line.
func Print(w io.Writer, stats scheduler.Stats, acct *budget.Accountant) {
	fmt.Fprintln(w, "--- run summary ---")
	fmt.Fprintf(w, "completed: %d\n", stats.Completed)
	fmt.Fprintf(w, "failed:    %d\n", stats.Failed)
	fmt.Fprintf(w, "deferred:  %d\n", stats.Deferred)
	fmt.Fprintf(w, "no_match:  %d\n", stats.NoMatch)

	fmt.Fprintln(w, "--- totals by content class (this run) ---")
	used := acct.Used(types.ScopeTotal)
	for _, class := range []types.ContentClass{types.ClassPDF, types.ClassImage, types.ClassMetadata} {
		c := used[class]
		fmt.Fprintf(w, "%s: %s across %d files\n", class, humanize.Bytes(uint64(c.Bytes)), c.Files)
	}
}
