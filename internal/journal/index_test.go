package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/archivist/pkg/types"
)

func TestIndex_AppendWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.csv")
	idx := NewIndex(path)

	require.NoError(t, idx.Append(types.IndexRow{WorkID: "w1", EntryID: "E1", Status: "completed"}))
	require.NoError(t, idx.Append(types.IndexRow{WorkID: "w2", EntryID: "E2", Status: "failed"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "work_id,entry_id,work_dir,title,creator,selected_provider,selected_provider_key,selected_source_id,selected_dir,work_json,item_url,status", lines[0])
}

func TestIndex_ConcurrentAppendsAllSucceed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.csv")
	idx := NewIndex(path)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			errs <- idx.Append(types.IndexRow{WorkID: string(rune('a' + i))})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	ids, err := ReadProcessedWorkIDs(path)
	require.NoError(t, err)
	assert.Len(t, ids, n)
}

func TestLookupWorkDir_FindsExistingWork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.csv")
	idx := NewIndex(path)
	require.NoError(t, idx.Append(types.IndexRow{WorkID: "w1", WorkDir: "/out/w1"}))

	dir, ok, err := LookupWorkDir(path, "w1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/out/w1", dir)
}

func TestLookupWorkDir_MissingReturnsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.csv")
	idx := NewIndex(path)
	require.NoError(t, idx.Append(types.IndexRow{WorkID: "w1", WorkDir: "/out/w1"}))

	_, ok, err := LookupWorkDir(path, "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupWorkDir_MissingFileIsNotAnError(t *testing.T) {
	_, ok, err := LookupWorkDir(filepath.Join(t.TempDir(), "missing.csv"), "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadProcessedWorkIDs_TolerantOfExtraColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.csv")
	require.NoError(t, os.WriteFile(path, []byte("work_id,entry_id,extra\nw1,E1,foo\nw2,E2,bar\n"), 0o644))

	ids, err := ReadProcessedWorkIDs(path)
	require.NoError(t, err)
	assert.True(t, ids["w1"])
	assert.True(t, ids["w2"])
}
