package pipeline

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
	"github.com/pdiddy/archivist/internal/scheduler"
	"github.com/pdiddy/archivist/internal/selector"
	"github.com/pdiddy/archivist/pkg/types"
)

type driverStubAdapter struct {
	key        string
	candidates []types.Candidate
	outcome    provider.Outcome
	err        error
}

func (a *driverStubAdapter) ProviderKey() string { return a.key }
func (a *driverStubAdapter) DisplayName() string { return a.key }
func (a *driverStubAdapter) Search(ctx context.Context, title, creator string, maxResults int) ([]types.Candidate, error) {
	return a.candidates, nil
}
func (a *driverStubAdapter) Download(ctx context.Context, candidate types.ScoredCandidate, workDir string, opts provider.Options) (provider.Outcome, error) {
	return a.outcome, a.err
}

func newTestDriver(t *testing.T, adapters ...*driverStubAdapter) (*Driver, types.Config, string, string) {
	t.Helper()
	c := clock.NewFake(time.Now())
	reg := provider.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	outDir := t.TempDir()
	cfg := types.Config{
		General: types.GeneralConfig{OutputDir: outDir},
		Download: types.DownloadConfig{
			MaxParallelDownloads: 2,
			WorkerTimeoutS:       5,
		},
		Selection: types.SelectionConfig{
			MinTitleScore:            85,
			MaxCandidatesPerProvider: 10,
			MaxParallelSearches:      2,
			ProviderHierarchy:        []string{"ia", "bnf"},
		},
	}
	q := quota.New(c)
	dq := deferred.New(c)
	acct := budget.New(budget.Limits{}, types.PolicySkip)
	brs := breaker.NewRegistry(c, func(string) types.NetworkConfig { return types.NetworkConfig{} })
	indexPath := filepath.Join(outDir, "index.csv")
	idx := journal.NewIndex(indexPath)
	sched := scheduler.New(c, reg, q, dq, acct, brs, cfg, idx, &bytes.Buffer{})
	sel := selector.New(reg, cfg.Selection)
	return New(sel, reg, sched, acct, idx, c, cfg, &bytes.Buffer{}), cfg, outDir, indexPath
}

func TestProcessRecord_NoMatchMarksTerminal(t *testing.T) {
	ia := &driverStubAdapter{key: "ia", candidates: []types.Candidate{
		{ProviderKey: "ia", SourceID: "1", Title: "Completely unrelated work"},
	}}
	driver, _, _, indexPath := newTestDriver(t, ia)

	w, err := driver.ProcessRecord(context.Background(), types.InputRecord{EntryID: "E1", Title: "The Raven"}, []string{"ia"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNoMatch, w.Status)
	require.Len(t, w.Candidates, 1)
	assert.Equal(t, "1", w.Candidates[0].SourceID)
	require.NotNil(t, w.Selected)
	require.Len(t, w.Selected.RejectedReason, 1)
	assert.Equal(t, "below-min-title-score", w.Selected.RejectedReason[0].Reason)

	loaded, err := journal.Read(w.WorkDir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, types.StatusNoMatch, loaded.Status)
	assert.Len(t, loaded.Candidates, 1)

	ids, err := journal.ReadProcessedWorkIDs(indexPath)
	require.NoError(t, err)
	assert.True(t, ids[w.WorkID])
}

func TestProcessRecord_DryRunWritesWorkJSONWithoutDownload(t *testing.T) {
	ia := &driverStubAdapter{key: "ia", candidates: []types.Candidate{
		{ProviderKey: "ia", SourceID: "1", Title: "The Raven"},
	}}
	driver, cfg, _, indexPath := newTestDriver(t, ia)
	cfg.General.DryRun = true
	driver.cfg = cfg

	w, err := driver.ProcessRecord(context.Background(), types.InputRecord{EntryID: "E1", Title: "The Raven"}, []string{"ia"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, w.Status)
	assert.NoFileExists(t, filepath.Join(w.WorkDir, "objects", "anything"))

	ids, err := journal.ReadProcessedWorkIDs(indexPath)
	require.NoError(t, err)
	assert.True(t, ids[w.WorkID])
}

func TestProcessRecord_SkipsViaResumeMode(t *testing.T) {
	ia := &driverStubAdapter{key: "ia"}
	driver, cfg, outDir, _ := newTestDriver(t, ia)
	cfg.Download.ResumeMode = "skip_completed"
	driver.cfg = cfg

	record := types.InputRecord{EntryID: "E1", Title: "The Raven"}
	dirName := filepath.Join(outDir, WorkID(record.EntryID, record.Title))
	_ = dirName

	w, err := driver.ProcessRecord(context.Background(), record, []string{"ia"})
	require.NoError(t, err)
	require.NotNil(t, w)

	w.Status = types.StatusCompleted
	require.NoError(t, journal.Write(w))

	w2, err := driver.ProcessRecord(context.Background(), record, []string{"ia"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, w2.Status)
}

func TestWorkID_StableForSameInput(t *testing.T) {
	a := WorkID("E1", "The Raven")
	b := WorkID("E1", "The Raven")
	c := WorkID("E1", "Moby Dick")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRewriteCSVRecord_SetsRetrievableAndLink(t *testing.T) {
	record := &types.InputRecord{}
	w := &types.Work{
		Status:   types.StatusCompleted,
		Selected: &types.Selection{Primary: types.ScoredCandidate{Candidate: types.Candidate{ItemURL: "https://x"}}},
	}
	RewriteCSVRecord(record, w)
	assert.True(t, record.Retrievable)
	assert.Equal(t, "https://x", record.Link)
}

func TestRewriteCSVRecord_NotCompletedLeavesRetrievableFalse(t *testing.T) {
	record := &types.InputRecord{}
	w := &types.Work{Status: types.StatusFailed}
	RewriteCSVRecord(record, w)
	assert.False(t, record.Retrievable)
}
