package pipeline

import (
	"time"

	"github.com/pdiddy/archivist/internal/journal"
	"github.com/pdiddy/archivist/internal/scheduler"
	"github.com/pdiddy/archivist/pkg/types"
)

// Replay re-enqueues one ready DeferredItem onto sched, recovering its
// work_dir from index.csv and its persisted Work from work.json. It returns
// false if the work can no longer be located (e.g. its directory was
// removed between runs), in which case the caller should drop the item.
func Replay(indexPath string, item types.DeferredItem, sched *scheduler.Scheduler, workerTimeoutS float64, now time.Time) bool {
	workDir, ok, err := journal.LookupWorkDir(indexPath, item.WorkID)
	if err != nil || !ok {
		return false
	}
	w, err := journal.Read(workDir)
	if err != nil || w == nil {
		return false
	}

	deadline := time.Time{}
	if workerTimeoutS > 0 {
		deadline = now.Add(time.Duration(workerTimeoutS * float64(time.Second)))
	}
	sched.Submit(types.DownloadTask{
		WorkRef:      w,
		Candidate:    item.Candidate,
		AttemptIndex: item.AttemptIndex,
		Deadline:     deadline,
	})
	return true
}
