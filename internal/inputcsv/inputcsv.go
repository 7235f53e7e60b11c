// Package inputcsv reads and in-place rewrites the user-facing input CSV
// described in spec.md §6: entry_id/short_title/main_author/retrievable/link
// via a column-mapping table, with any other column preserved unchanged.
package inputcsv

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdiddy/archivist/pkg/types"
)

// columnAliases maps each recognized logical column to the header names
// that satisfy it, case-insensitively.
var columnAliases = map[string][]string{
	"entry_id":    {"entry_id"},
	"title":       {"short_title", "title"},
	"creator":     {"main_author", "creator"},
	"retrievable": {"retrievable"},
	"link":        {"link"},
}

// resolveColumns maps each logical column to its header index, or -1 if the
// input CSV carries no matching column. -1 (rather than a bare lookup
// default of 0) keeps an absent column from colliding with whatever real
// column happens to sit at index 0.
func resolveColumns(header []string) map[string]int {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	resolved := make(map[string]int)
	for logical := range columnAliases {
		resolved[logical] = -1
	}
	for logical, aliases := range columnAliases {
		for _, alias := range aliases {
			for i, h := range lower {
				if h == alias {
					resolved[logical] = i
					break
				}
			}
			if resolved[logical] != -1 {
				break
			}
		}
	}
	return resolved
}

// Read parses path into InputRecords, preserving unrecognized columns in
// ExtraColumns keyed by their original header.
func Read(path string) ([]types.InputRecord, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &types.IOError{Op: "open input csv", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, nil, &types.IOError{Op: "read input csv header", Err: err}
	}
	cols := resolveColumns(header)

	var records []types.InputRecord
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		rec := types.InputRecord{ExtraColumns: map[string]string{}}
		for i, h := range header {
			if i >= len(row) {
				continue
			}
			switch i {
			case cols["entry_id"]:
				rec.EntryID = row[i]
			case cols["title"]:
				rec.Title = row[i]
			case cols["creator"]:
				rec.Creator = row[i]
			case cols["retrievable"]:
				rec.Retrievable = strings.EqualFold(strings.TrimSpace(row[i]), "true")
			case cols["link"]:
				rec.Link = row[i]
			default:
				rec.ExtraColumns[h] = row[i]
			}
		}
		if rec.EntryID == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, header, nil
}

// Write rewrites path in place (write-temp-then-rename) with header and
// records, mutating only the retrievable/link columns per §6; any other
// recognized column is re-serialized from the record, and ExtraColumns
// round-trip unchanged.
func Write(path string, header []string, records []types.InputRecord) error {
	cols := resolveColumns(header)
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".input-*.csv.tmp")
	if err != nil {
		return &types.IOError{Op: "create temp input csv", Err: err}
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &types.IOError{Op: "write input csv header", Err: err}
	}
	for _, rec := range records {
		row := make([]string, len(header))
		for i, h := range header {
			switch i {
			case cols["entry_id"]:
				row[i] = rec.EntryID
			case cols["title"]:
				row[i] = rec.Title
			case cols["creator"]:
				row[i] = rec.Creator
			case cols["retrievable"]:
				row[i] = strconv.FormatBool(rec.Retrievable)
			case cols["link"]:
				row[i] = rec.Link
			default:
				row[i] = rec.ExtraColumns[h]
			}
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return &types.IOError{Op: "write input csv row", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &types.IOError{Op: "flush input csv", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &types.IOError{Op: "close temp input csv", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &types.IOError{Op: "rename input csv", Err: err}
	}
	return nil
}
