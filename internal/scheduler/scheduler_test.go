package scheduler

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/archivist/internal/breaker"
	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/internal/deferred"
	"github.com/pdiddy/archivist/internal/journal"
	"github.com/pdiddy/archivist/internal/provider"
	"github.com/pdiddy/archivist/internal/quota"
	"github.com/pdiddy/archivist/pkg/types"
)

type stubAdapter struct {
	key      string
	outcome  provider.Outcome
	err      error
	downloaded int
}

func (s *stubAdapter) ProviderKey() string { return s.key }
func (s *stubAdapter) DisplayName() string { return s.key }
func (s *stubAdapter) Search(ctx context.Context, title, creator string, maxResults int) ([]types.Candidate, error) {
	return nil, nil
}
func (s *stubAdapter) Download(ctx context.Context, candidate types.ScoredCandidate, workDir string, opts provider.Options) (provider.Outcome, error) {
	s.downloaded++
	return s.outcome, s.err
}

func newTestScheduler(t *testing.T, cfg types.Config, adapters ...*stubAdapter) (*Scheduler, *journal.Index, string) {
	t.Helper()
	c := clock.NewFake(time.Now())
	reg := provider.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	q := quota.New(c)
	dq := deferred.New(c)
	acct := budget.New(budget.Limits{}, types.PolicySkip)
	brs := breaker.NewRegistry(c, func(string) types.NetworkConfig { return types.NetworkConfig{} })
	indexPath := filepath.Join(t.TempDir(), "index.csv")
	idx := journal.NewIndex(indexPath)
	sched := New(c, reg, q, dq, acct, brs, cfg, idx, &bytes.Buffer{})
	return sched, idx, indexPath
}

func baseConfig() types.Config {
	return types.Config{
		Download: types.DownloadConfig{
			MaxParallelDownloads: 2,
			WorkerTimeoutS:       5,
		},
	}
}

func newWork(t *testing.T, primary, fallback string) *types.Work {
	t.Helper()
	dir := t.TempDir()
	w := &types.Work{
		WorkID:  "w1",
		WorkDir: dir,
		Input:   types.InputRecord{EntryID: "E1", Title: "The Raven"},
		Status:  types.StatusPending,
	}
	sel := &types.Selection{
		Primary: types.ScoredCandidate{Candidate: types.Candidate{ProviderKey: primary, SourceID: "1"}},
	}
	if fallback != "" {
		sel.Fallbacks = []types.ScoredCandidate{
			{Candidate: types.Candidate{ProviderKey: fallback, SourceID: "2"}},
		}
	}
	w.Selected = sel
	return w
}

func TestScheduler_SuccessfulDownloadMarksCompleted(t *testing.T) {
	ia := &stubAdapter{key: "ia", outcome: provider.Outcome{FilesWritten: []string{"a.pdf"}, BytesWritten: 100}}
	sched, _, indexPath := newTestScheduler(t, baseConfig(), ia)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { sched.Run(ctx); close(done) }()

	w := newWork(t, "ia", "")
	sched.Submit(types.DownloadTask{WorkRef: w, Candidate: w.Selected.Primary, AttemptIndex: 0})
	sched.Close()
	<-done

	assert.Equal(t, types.StatusCompleted, w.Status)
	assert.Equal(t, 1, ia.downloaded)
	assert.Equal(t, Stats{Completed: 1}, sched.Stats())

	ids, err := journal.ReadProcessedWorkIDs(indexPath)
	require.NoError(t, err)
	assert.True(t, ids["w1"])
}

func TestScheduler_FallbackOnPrimaryFailure(t *testing.T) {
	ia := &stubAdapter{key: "ia", err: &types.Transient{Err: assert.AnError}}
	bnf := &stubAdapter{key: "bnf", outcome: provider.Outcome{BytesWritten: 50}}
	sched, _, _ := newTestScheduler(t, baseConfig(), ia, bnf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { sched.Run(ctx); close(done) }()

	w := newWork(t, "ia", "bnf")
	sched.Submit(types.DownloadTask{WorkRef: w, Candidate: w.Selected.Primary, AttemptIndex: 0})
	sched.Close()
	<-done

	assert.Equal(t, types.StatusCompleted, w.Status)
	assert.Equal(t, 1, ia.downloaded)
	assert.Equal(t, 1, bnf.downloaded)
}

func TestScheduler_FailsWhenFallbacksExhausted(t *testing.T) {
	ia := &stubAdapter{key: "ia", err: &types.Transient{Err: assert.AnError}}
	sched, _, _ := newTestScheduler(t, baseConfig(), ia)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { sched.Run(ctx); close(done) }()

	w := newWork(t, "ia", "")
	sched.Submit(types.DownloadTask{WorkRef: w, Candidate: w.Selected.Primary, AttemptIndex: 0})
	sched.Close()
	<-done

	assert.Equal(t, types.StatusFailed, w.Status)
	assert.Equal(t, Stats{Failed: 1}, sched.Stats())
}

func TestScheduler_QuotaExhaustionWithWaitDefersTask(t *testing.T) {
	ia := &stubAdapter{key: "ia", outcome: provider.Outcome{BytesWritten: 10}}
	cfg := baseConfig()
	cfg.Providers = types.ProvidersConfig{"ia": true}
	cfg.ProviderSettings = map[string]types.ProviderSettings{
		"ia": {Quota: types.QuotaConfig{Enabled: true, DailyLimit: 1, ResetHours: 24, WaitForReset: true}},
	}
	sched, _, _ := newTestScheduler(t, cfg, ia)
	sched.quota.Register("ia", cfg.QuotaConfigFor("ia"))
	sched.quota.RecordDownload("ia")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { sched.Run(ctx); close(done) }()

	w := newWork(t, "ia", "")
	sched.Submit(types.DownloadTask{WorkRef: w, Candidate: w.Selected.Primary, AttemptIndex: 0})
	sched.Close()
	<-done

	assert.Equal(t, types.StatusDeferred, w.Status)
	assert.Equal(t, 0, ia.downloaded)
}

func TestScheduler_MaxParallelDownloadsOneIsSequential(t *testing.T) {
	ia := &stubAdapter{key: "ia", outcome: provider.Outcome{BytesWritten: 1}}
	cfg := baseConfig()
	cfg.Download.MaxParallelDownloads = 1
	sched, _, _ := newTestScheduler(t, cfg, ia)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { sched.Run(ctx); close(done) }()

	w1 := newWork(t, "ia", "")
	w2 := newWork(t, "ia", "")
	w2.WorkID = "w2"
	sched.Submit(types.DownloadTask{WorkRef: w1, Candidate: w1.Selected.Primary, AttemptIndex: 0})
	sched.Submit(types.DownloadTask{WorkRef: w2, Candidate: w2.Selected.Primary, AttemptIndex: 0})
	sched.Close()
	<-done

	assert.Equal(t, types.StatusCompleted, w1.Status)
	assert.Equal(t, types.StatusCompleted, w2.Status)
	assert.Equal(t, 2, ia.downloaded)
}
