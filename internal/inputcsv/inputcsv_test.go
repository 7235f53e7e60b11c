package inputcsv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRead_ParsesKnownColumnsAndPreservesExtras(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "in.csv",
		"entry_id,short_title,main_author,retrievable,link,notes\n"+
			"E1,The Raven,Poe,true,https://x,some note\n")

	records, header, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"entry_id", "short_title", "main_author", "retrievable", "link", "notes"}, header)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "E1", r.EntryID)
	assert.Equal(t, "The Raven", r.Title)
	assert.Equal(t, "Poe", r.Creator)
	assert.True(t, r.Retrievable)
	assert.Equal(t, "https://x", r.Link)
	assert.Equal(t, "some note", r.ExtraColumns["notes"])
}

func TestRead_SkipsRowsWithoutEntryID(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "in.csv",
		"entry_id,short_title\n,Untitled\nE2,Moby Dick\n")

	records, _, err := Read(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E2", records[0].EntryID)
}

func TestRead_MissingRetrievableAndLinkColumnsDoesNotCorruptEntryID(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "in.csv", "entry_id,short_title\nE1,The Raven\n")

	records, _, err := Read(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E1", records[0].EntryID)
	assert.Equal(t, "The Raven", records[0].Title)
	assert.False(t, records[0].Retrievable)
	assert.Equal(t, "", records[0].Link)
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "in.csv",
		"entry_id,short_title,retrievable,link\nE1,The Raven,false,\n")

	records, header, err := Read(path)
	require.NoError(t, err)
	records[0].Retrievable = true
	records[0].Link = "https://archive.org/details/raven"

	require.NoError(t, Write(path, header, records))

	reread, _, err := Read(path)
	require.NoError(t, err)
	require.Len(t, reread, 1)
	assert.True(t, reread[0].Retrievable)
	assert.Equal(t, "https://archive.org/details/raven", reread[0].Link)
}

func TestWrite_PreservesExtraColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "in.csv", "entry_id,short_title,notes\nE1,The Raven,keep me\n")

	records, header, err := Read(path)
	require.NoError(t, err)
	require.NoError(t, Write(path, header, records))

	reread, _, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", reread[0].ExtraColumns["notes"])
}

func TestRead_MissingFileReturnsIOError(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}
