// Package scheduler is the bounded concurrent download worker pool: a
// global slot pool gated further by a per-provider semaphore, deadline-per-
// task cancellation, fallback-on-failure, and quota-driven deferral.
// Grounded on original `main/download_scheduler.py`'s DownloadScheduler /
// ProviderSemaphoreManager, restructured from a ThreadPoolExecutor onto Go
// goroutines + a buffered channel + golang.org/x/sync/semaphore, following
// the errgroup/semaphore idiom in `handiism-BandcampDownloader/go/internal/download/manager.go`.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pdiddy/archivist/internal/breaker"
	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/internal/deferred"
	"github.com/pdiddy/archivist/internal/journal"
	"github.com/pdiddy/archivist/internal/naming"
	"github.com/pdiddy/archivist/internal/provider"
	"github.com/pdiddy/archivist/internal/quota"
	"github.com/pdiddy/archivist/pkg/types"
)

// Stats is the end-of-run scheduler summary, per the original's get_stats.
type Stats struct {
	Completed int
	Failed    int
	Deferred  int
	NoMatch   int
}

// Scheduler dispatches DownloadTasks against the provider registry, with
// per-provider concurrency caps and a global pool cap.
type Scheduler struct {
	clock      clock.Clock
	registry   *provider.Registry
	quota      *quota.Ledger
	deferredQ  *deferred.Queue
	accountant *budget.Accountant
	breakers   *breaker.Registry
	cfg        types.Config
	out        io.Writer

	poolSem      *semaphore.Weighted
	providerSems map[string]*semaphore.Weighted
	mu           sync.Mutex

	tasks   chan types.DownloadTask
	wg      sync.WaitGroup
	stats   Stats
	statsMu sync.Mutex

	shuttingDown bool
	shutdownMu   sync.Mutex

	index      *journal.Index
	onTerminal func(*types.Work)
}

// New builds a Scheduler from the composition root's shared services.
func New(c clock.Clock, registry *provider.Registry, q *quota.Ledger, dq *deferred.Queue, acct *budget.Accountant, breakers *breaker.Registry, cfg types.Config, idx *journal.Index, out io.Writer) *Scheduler {
	if out == nil {
		out = os.Stderr
	}
	poolSize := cfg.Download.MaxParallelDownloads
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Scheduler{
		clock:        c,
		registry:     registry,
		quota:        q,
		deferredQ:    dq,
		accountant:   acct,
		breakers:     breakers,
		cfg:          cfg,
		out:          out,
		poolSem:      semaphore.NewWeighted(int64(poolSize)),
		providerSems: make(map[string]*semaphore.Weighted),
		tasks:        make(chan types.DownloadTask, poolSize*4+8),
		index:        idx,
	}
}

func (s *Scheduler) providerSem(providerKey string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sem, ok := s.providerSems[providerKey]; ok {
		return sem
	}
	n := s.cfg.ProviderConcurrencyFor(providerKey)
	if n <= 0 {
		n = 1
	}
	sem := semaphore.NewWeighted(int64(n))
	s.providerSems[providerKey] = sem
	return sem
}

// Submit enqueues a task. The caller must have already called Run. Each
// submitted task is counted until it finishes, so Close also waits for the
// fallback tasks a running task submits.
func (s *Scheduler) Submit(task types.DownloadTask) {
	s.shutdownMu.Lock()
	down := s.shuttingDown
	if !down {
		s.wg.Add(1)
	}
	s.shutdownMu.Unlock()
	if down {
		return
	}
	s.tasks <- task
}

// Run drains the task channel, spawning one goroutine per task bounded by
// the global pool semaphore, until Close closes the channel. Once ctx is
// cancelled, the remaining queued tasks are drained without running.
func (s *Scheduler) Run(ctx context.Context) {
	for task := range s.tasks {
		if err := s.poolSem.Acquire(ctx, 1); err != nil {
			s.wg.Done()
			continue
		}
		go func(t types.DownloadTask) {
			defer s.wg.Done()
			defer s.poolSem.Release(1)
			s.runTask(ctx, t)
		}(task)
	}
}

// Close waits for every submitted task (including fallback resubmissions)
// to finish, then stops admitting new tasks and closes the channel so Run
// returns.
func (s *Scheduler) Close() {
	s.wg.Wait()
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()
	s.wg.Wait()
	close(s.tasks)
}

// OnTerminal registers fn to run every time a work reaches a terminal status
// (completed, failed, deferred) via this scheduler, including fallback
// resubmissions and later deferred-queue replays. Set before Run starts
// accepting tasks. Callers use this to know exactly when a *types.Work is
// safe to read its final status from, rather than racing the goroutine that
// mutates it.
func (s *Scheduler) OnTerminal(fn func(*types.Work)) {
	s.onTerminal = fn
}

// RequestShutdown stops admitting new tasks; in-flight tasks still run to
// completion or cancellation via ctx.
func (s *Scheduler) RequestShutdown() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()
}

func (s *Scheduler) runTask(ctx context.Context, task types.DownloadTask) {
	providerKey := task.Candidate.ProviderKey
	psem := s.providerSem(providerKey)
	if err := psem.Acquire(ctx, 1); err != nil {
		return
	}
	defer psem.Release(1)

	taskCtx := ctx
	var cancel context.CancelFunc
	if !task.Deadline.IsZero() {
		taskCtx, cancel = context.WithDeadline(ctx, task.Deadline)
		defer cancel()
	}

	adapter, ok := s.registry.Get(providerKey)
	if !ok {
		s.failOrFallback(ctx, task, fmt.Errorf("no adapter registered for %s", providerKey))
		return
	}

	if s.cfg.QuotaConfigFor(providerKey).Enabled && !s.quota.CanDownload(providerKey) {
		s.handleQuotaExhausted(task, providerKey)
		return
	}

	opts := provider.Options{
		PreferPDFOverImages:        s.cfg.Download.PreferPDFOverImages,
		DownloadManifestRenderings: s.cfg.Download.DownloadManifestRenderings,
		MaxRenderingsPerManifest:   s.cfg.Download.MaxRenderingsPerManifest,
		RenderingMimeWhitelist:     s.cfg.Download.RenderingMimeWhitelist,
		AllowedExtensions:          s.cfg.Download.AllowedObjectExtensions,
		IncludeMetadata:            s.cfg.Download.IncludeMetadata,
		OverwriteExisting:          s.cfg.Download.OverwriteExisting,
	}

	outcome, err := adapter.Download(taskCtx, task.Candidate, task.WorkRef.WorkDir, opts)
	if err != nil {
		if taskCtx.Err() != nil && ctx.Err() == nil {
			err = &types.Timeout{WorkID: task.WorkRef.WorkID}
			cleanupPartialFiles(task.WorkRef.WorkDir)
		}
		var qe *types.QuotaExhausted
		if as(err, &qe) {
			s.handleQuotaExhausted(task, providerKey)
			return
		}
		s.failOrFallback(ctx, task, err)
		return
	}

	if s.cfg.QuotaConfigFor(providerKey).Enabled {
		s.quota.RecordDownload(providerKey)
	}
	if s.cfg.Download.IncludeMetadata {
		writeCandidateMetadata(task.WorkRef.WorkDir, task.Candidate)
	}

	now := s.clock.Now()
	task.WorkRef.Transition(types.StatusCompleted, fmt.Sprintf("%s:completed", providerKey), now)
	_ = journal.Write(task.WorkRef)
	s.appendIndex(task.WorkRef)
	s.recordTerminal(types.StatusCompleted)
	s.notifyTerminal(task.WorkRef)
	fmt.Fprintf(s.out, "completed %s via %s (%d bytes, %d files)\n", task.WorkRef.WorkID, providerKey, outcome.BytesWritten, len(outcome.FilesWritten))
}

// as is a small errors.As wrapper kept local to avoid importing errors in
// every call site above.
func as(err error, target any) bool {
	return asImpl(err, target)
}

func (s *Scheduler) handleQuotaExhausted(task types.DownloadTask, providerKey string) {
	cfg := s.cfg.QuotaConfigFor(providerKey)
	if cfg.WaitForReset {
		resetAt, _ := s.quota.NextReset(providerKey)
		s.deferredQ.Add(task.WorkRef.WorkID, task.Candidate, types.DeferQuota, resetAt, task.AttemptIndex)
		now := s.clock.Now()
		task.WorkRef.Transition(types.StatusDeferred, fmt.Sprintf("%s:quota-exhausted", providerKey), now)
		_ = journal.Write(task.WorkRef)
		s.appendIndex(task.WorkRef)
		s.recordTerminal(types.StatusDeferred)
		s.notifyTerminal(task.WorkRef)
		return
	}
	s.failOrFallback(context.Background(), task, &types.QuotaExhausted{ProviderKey: providerKey})
}

// failOrFallback consults the work's fallback list; if a fallback remains at
// task.AttemptIndex it is re-submitted, otherwise the work is marked failed.
func (s *Scheduler) failOrFallback(ctx context.Context, task types.DownloadTask, cause error) {
	w := task.WorkRef
	now := s.clock.Now()
	reason := fmt.Sprintf("%s:failed:%s", task.Candidate.ProviderKey, classifyReason(cause))
	w.History = append(w.History, types.HistoryEntry{From: w.Status, To: w.Status, Reason: reason, Timestamp: now})

	if w.Selected == nil || task.AttemptIndex >= len(w.Selected.Fallbacks) {
		if s.breakers.AllOpen() {
			w.Transition(types.StatusFailed, "all-providers-unavailable", now)
		} else {
			w.Transition(types.StatusFailed, "fallbacks-exhausted", now)
		}
		_ = journal.Write(w)
		s.appendIndex(w)
		s.recordTerminal(types.StatusFailed)
		s.notifyTerminal(w)
		return
	}

	next := w.Selected.Fallbacks[task.AttemptIndex]
	nextTask := types.DownloadTask{
		WorkRef:      w,
		Candidate:    next,
		AttemptIndex: task.AttemptIndex + 1,
		Deadline:     s.clock.Now().Add(time.Duration(s.cfg.Download.WorkerTimeoutS * float64(time.Second))),
	}
	s.Submit(nextTask)
}

func classifyReason(err error) string {
	var ce *types.ClientError
	if as(err, &ce) {
		return "client-error"
	}
	var rl *types.RateLimited
	if as(err, &rl) {
		return "rate-limited"
	}
	var tr *types.Transient
	if as(err, &tr) {
		return "transient"
	}
	var co *types.CircuitOpen
	if as(err, &co) {
		return "circuit-open"
	}
	var be *types.BudgetExceeded
	if as(err, &be) {
		return "budget-exceeded"
	}
	var to *types.Timeout
	if as(err, &to) {
		return "timeout"
	}
	return "error"
}

func (s *Scheduler) appendIndex(w *types.Work) {
	_ = journal.AppendIndexRow(s.index, w)
}

func (s *Scheduler) notifyTerminal(w *types.Work) {
	if s.onTerminal != nil {
		s.onTerminal(w)
	}
}

func (s *Scheduler) recordTerminal(status types.WorkStatus) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	switch status {
	case types.StatusCompleted:
		s.stats.Completed++
	case types.StatusFailed:
		s.stats.Failed++
	case types.StatusDeferred:
		s.stats.Deferred++
	case types.StatusNoMatch:
		s.stats.NoMatch++
	}
}

// Stats returns the current terminal-status tally.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func writeCandidateMetadata(workDir string, c types.ScoredCandidate) {
	seq := naming.NewSequencer()
	filename := seq.MetadataFilename(c.SourceID, c.ProviderKey)
	path := workDir + "/metadata/" + filename
	data, err := jsonMarshalIndent(c)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

func cleanupPartialFiles(workDir string) {
	entries, err := os.ReadDir(workDir + "/objects")
	if err != nil {
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err == nil && info.Size() == 0 {
			os.Remove(workDir + "/objects/" + e.Name())
		}
	}
}
