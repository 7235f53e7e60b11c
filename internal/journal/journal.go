// Package journal owns work.json read/write and the deterministic on-disk
// layout described in spec.md §6.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pdiddy/archivist/pkg/types"
)

// WorkJSONPath returns the work.json path inside workDir.
func WorkJSONPath(workDir string) string {
	return filepath.Join(workDir, "work.json")
}

// Write persists w to its work.json via write-temp-then-rename, creating
// workDir (and metadata/objects subdirectories) if necessary. Grounded on
// `internal/acquire/acquire.go::writeMetadata`'s temp-then-rename idiom.
func Write(w *types.Work) error {
	if err := os.MkdirAll(filepath.Join(w.WorkDir, "metadata"), 0o755); err != nil {
		return &types.IOError{Op: "mkdir metadata dir", Err: err}
	}
	if err := os.MkdirAll(filepath.Join(w.WorkDir, "objects"), 0o755); err != nil {
		return &types.IOError{Op: "mkdir objects dir", Err: err}
	}

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return &types.IOError{Op: "marshal work.json", Err: err}
	}

	dest := WorkJSONPath(w.WorkDir)
	tmp, err := os.CreateTemp(w.WorkDir, ".work-*.json.tmp")
	if err != nil {
		return &types.IOError{Op: "create temp work.json", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &types.IOError{Op: "write temp work.json", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &types.IOError{Op: "close temp work.json", Err: err}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return &types.IOError{Op: "rename work.json", Err: err}
	}
	return nil
}

// Read loads work.json from workDir. A missing file returns (nil, nil) so
// callers can distinguish "never started" from a read failure.
func Read(workDir string) (*types.Work, error) {
	data, err := os.ReadFile(WorkJSONPath(workDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.IOError{Op: "read work.json", Err: err}
	}
	var w types.Work
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &types.IOError{Op: "parse work.json", Err: err}
	}
	return &w, nil
}

// HasObjects reports whether workDir/objects contains at least one regular
// file, for resume_mode=skip_if_has_objects.
func HasObjects(workDir string) bool {
	entries, err := os.ReadDir(filepath.Join(workDir, "objects"))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			return true
		}
	}
	return false
}
