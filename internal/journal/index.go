package journal

import (
	"encoding/csv"
	"os"
	"sync"

	"github.com/pdiddy/archivist/pkg/types"
)

// indexHeader is index.csv's fixed column order, per spec.md §6.
var indexHeader = []string{
	"work_id", "entry_id", "work_dir", "title", "creator",
	"selected_provider", "selected_provider_key", "selected_source_id",
	"selected_dir", "work_json", "item_url", "status",
}

// Index is the append-only, schema-tolerant index.csv writer. encoding/csv
// is stdlib by necessity, not preference: no third-party CSV library
// appears anywhere in the retrieval pack, and spec.md §1/§6 already treats
// CSV I/O as an external-collaborator interface with its own specified
// shape, so there is no domain-stack dependency to wire here.
type Index struct {
	mu   sync.Mutex
	path string
}

// NewIndex returns an Index bound to path. The file is not touched until
// the first Append.
func NewIndex(path string) *Index {
	return &Index{path: path}
}

// Append writes one row to index.csv, writing the header first if the file
// does not yet exist. Grounded on original `main/index_manager.py::update_index_csv`.
func (idx *Index) Append(row types.IndexRow) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := os.Stat(idx.path)
	needsHeader := os.IsNotExist(err)

	f, err := os.OpenFile(idx.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &types.IOError{Op: "open index.csv", Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(indexHeader); err != nil {
			return &types.IOError{Op: "write index.csv header", Err: err}
		}
	}
	record := []string{
		row.WorkID, row.EntryID, row.WorkDir, row.Title, row.Creator,
		row.SelectedProvider, row.SelectedProviderKey, row.SelectedSourceID,
		row.SelectedDir, row.WorkJSON, row.ItemURL, row.Status,
	}
	if err := w.Write(record); err != nil {
		return &types.IOError{Op: "write index.csv row", Err: err}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &types.IOError{Op: "flush index.csv", Err: err}
	}
	return nil
}

// AppendIndexRow builds an IndexRow from w's current state and appends it to
// idx, per §4.7's "terminal states are reflected in index.csv" rule. Shared
// by the scheduler's own terminal transitions and the driver's no_match/
// dry_run branches, which terminate a work without ever reaching the
// scheduler.
func AppendIndexRow(idx *Index, w *types.Work) error {
	row := types.IndexRow{
		WorkID:  w.WorkID,
		EntryID: w.Input.EntryID,
		WorkDir: w.WorkDir,
		Title:   w.Input.Title,
		Creator: w.Input.Creator,
		Status:  string(w.Status),
	}
	if w.Selected != nil {
		row.SelectedProvider = w.Selected.Primary.ProviderDisplay
		row.SelectedProviderKey = w.Selected.Primary.ProviderKey
		row.SelectedSourceID = w.Selected.Primary.SourceID
		row.SelectedDir = w.WorkDir
		row.ItemURL = w.Selected.Primary.ItemURL
	}
	row.WorkJSON = WorkJSONPath(w.WorkDir)
	return idx.Append(row)
}

// LookupWorkDir scans index.csv for workID and returns its recorded
// work_dir, tolerating extra or reordered columns via the header row. Used
// by the deferred-queue replay ticker to recover a work's directory from
// only its stable ID.
func LookupWorkDir(path, workID string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, &types.IOError{Op: "open index.csv", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return "", false, nil
	}
	workIDCol, dirCol := -1, -1
	for i, h := range header {
		switch h {
		case "work_id":
			workIDCol = i
		case "work_dir":
			dirCol = i
		}
	}
	if workIDCol < 0 || dirCol < 0 {
		return "", false, nil
	}
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		if workIDCol < len(record) && record[workIDCol] == workID && dirCol < len(record) {
			return record[dirCol], true, nil
		}
	}
	return "", false, nil
}

// ReadProcessedWorkIDs returns the set of work_id values already present in
// index.csv, tolerating extra or reordered columns via the header row.
// Grounded on original `main/index_manager.py::get_processed_work_ids`.
func ReadProcessedWorkIDs(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, &types.IOError{Op: "open index.csv", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return map[string]bool{}, nil
	}
	workIDCol := -1
	for i, h := range header {
		if h == "work_id" {
			workIDCol = i
			break
		}
	}
	if workIDCol < 0 {
		return map[string]bool{}, nil
	}

	out := make(map[string]bool)
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		if workIDCol < len(record) {
			out[record[workIDCol]] = true
		}
	}
	return out, nil
}
