package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/internal/journal"
	"github.com/pdiddy/archivist/internal/naming"
	"github.com/pdiddy/archivist/internal/provider"
	"github.com/pdiddy/archivist/internal/scheduler"
	"github.com/pdiddy/archivist/internal/selector"
	"github.com/pdiddy/archivist/pkg/types"
)

// Driver runs the per-input-record lifecycle: resume-check, search-and-select,
// journal-write, enqueue. Grounded on `internal/acquire/acquire.go::AcquireBatch`
// (the continue-after-failure loop with inter-item delay) and original
// `main/pipeline.py`/`main/execution.py` (`search_and_select`/`process_work` split).
type Driver struct {
	sel        *selector.Selector
	registry   *provider.Registry
	sched      *scheduler.Scheduler
	accountant *budget.Accountant
	index      *journal.Index
	clock      clock.Clock
	cfg        types.Config
	out        io.Writer
}

// New returns a Driver wired to the composition root's shared services. idx
// is the same *journal.Index the scheduler appends to, so a work that
// terminates before ever reaching the scheduler (no_match, dry_run) still
// gets exactly one index.csv row, per §8 Invariant 1.
func New(sel *selector.Selector, registry *provider.Registry, sched *scheduler.Scheduler, acct *budget.Accountant, idx *journal.Index, c clock.Clock, cfg types.Config, out io.Writer) *Driver {
	return &Driver{sel: sel, registry: registry, sched: sched, accountant: acct, index: idx, clock: c, cfg: cfg, out: out}
}

// WorkID returns the stable hash of entry_id+title used to key a work
// independently of its on-disk directory name.
func WorkID(entryID, title string) string {
	h := sha256.Sum256([]byte(entryID + "\x00" + title))
	return hex.EncodeToString(h[:])[:16]
}

// ProcessRecord runs one input record through selection and, unless the
// work ends as no_match or dry-run completed, submits its primary candidate
// to the scheduler and returns the still-pending *types.Work. A record
// skipped by resume_mode returns whatever its work.json holds (nil if none).
func (d *Driver) ProcessRecord(ctx context.Context, record types.InputRecord, enabledProviders []string) (*types.Work, error) {
	workID := WorkID(record.EntryID, record.Title)
	dirName := naming.WorkDirName(record.EntryID, record.Title, record.Creator, record.Year, d.cfg.Naming.TitleSlugMaxLen)
	workDir := filepath.Join(d.cfg.General.OutputDir, dirName)

	if ShouldSkip(d.cfg.Download.ResumeMode, workDir, record) {
		fmt.Fprintf(d.out, "skip %s (resume_mode=%s)\n", record.EntryID, d.cfg.Download.ResumeMode)
		return journal.Read(workDir)
	}

	d.accountant.BeginWork()
	now := d.clock.Now()
	w := &types.Work{
		WorkID:    workID,
		Input:     record,
		WorkDir:   workDir,
		Status:    types.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	selection, err := d.sel.Select(ctx, record, enabledProviders)
	if err != nil {
		var nme *types.NoMatchError
		if errors.As(err, &nme) {
			w.Selected = &types.Selection{RejectedReason: nme.Rejected}
			for _, r := range nme.Rejected {
				w.Candidates = append(w.Candidates, r.ScoredCandidate)
			}
		}
		w.Transition(types.StatusNoMatch, "no-acceptable-candidate", d.clock.Now())
		if werr := journal.Write(w); werr != nil {
			return w, werr
		}
		if d.index != nil {
			_ = journal.AppendIndexRow(d.index, w)
		}
		fmt.Fprintf(d.out, "no_match %s\n", record.EntryID)
		return w, nil
	}

	w.Selected = selection
	w.Candidates = append([]types.ScoredCandidate{selection.Primary}, selection.Fallbacks...)

	if d.cfg.General.DryRun {
		w.Transition(types.StatusCompleted, "dry-run", d.clock.Now())
		if err := journal.Write(w); err != nil {
			return w, err
		}
		if d.index != nil {
			_ = journal.AppendIndexRow(d.index, w)
		}
		return w, nil
	}

	if err := journal.Write(w); err != nil {
		return w, err
	}

	deadline := time.Time{}
	if d.cfg.Download.WorkerTimeoutS > 0 {
		deadline = d.clock.Now().Add(time.Duration(d.cfg.Download.WorkerTimeoutS * float64(time.Second)))
	}
	task := types.DownloadTask{
		WorkRef:      w,
		Candidate:    selection.Primary,
		AttemptIndex: 0,
		Deadline:     deadline,
	}
	d.sched.Submit(task)
	return w, nil
}

// RewriteCSVRecord mirrors record.Link/Retrievable back onto the input CSV
// row once a work reaches a terminal status, for the driver's end-of-work
// CSV-update step (§6: "the driver mutates retrievable and link in place").
func RewriteCSVRecord(record *types.InputRecord, w *types.Work) {
	record.Retrievable = w.Status == types.StatusCompleted
	if w.Selected != nil && w.Selected.Primary.ItemURL != "" {
		record.Link = w.Selected.Primary.ItemURL
	}
}

// EnsureOutputDir creates the configured output root up front so the first
// work's WorkDir creation never races a missing parent.
func EnsureOutputDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &types.IOError{Op: "mkdir output dir", Err: err}
	}
	return nil
}
