// Stores a collection as a JSON array file.

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// JSONFile is a Backend storing the collection as a JSON array in a file.
//
// The file is read on every Load and rewritten atomically on every Save, so
// edits made by hand between requests are picked up.
type JSONFile[T Row[T]] struct {
	path string
}

// NewJSONFile opens the JSON file at path, creating it with an empty
// collection if it does not exist.
func NewJSONFile[T Row[T]](path string) (*JSONFile[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: data directory
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("[]\n"), 0o644); err != nil { //nolint:gosec // G306: data file
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return &JSONFile[T]{path: path}, nil
}

// Path returns the file path.
func (f *JSONFile[T]) Path() string {
	return f.path
}

// Load implements Backend.
//
// An empty file is an empty collection. Besides the array layout, an object
// keyed by ID is accepted; it is what older versions of the data files hold.
func (f *JSONFile[T]) Load(_ context.Context) ([]T, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []T{}, nil
	}
	if data[0] == '{' {
		return decodeKeyed[T](f.path, data)
	}
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	return rows, nil
}

// Save implements Backend.
func (f *JSONFile[T]) Save(_ context.Context, rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.path, err)
	}
	data = append(data, '\n')
	return writeFileAtomic(f.path, data)
}

func decodeKeyed[T Row[T]](path string, data []byte) ([]T, error) {
	var m map[string]T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	rows := make([]T, 0, len(m))
	for k, r := range m {
		var zero T
		if any(r) == any(zero) {
			continue
		}
		if r.GetID() == 0 {
			if id, err := strconv.ParseInt(k, 10, 64); err == nil {
				r.SetID(id)
			}
		}
		rows = append(rows, r)
	}
	// Map order is random; the store sorts by ID after loading.
	return rows, nil
}

// writeFileAtomic writes data to a temporary file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}
	name := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(name)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Chmod(name, 0o644); err != nil { //nolint:gosec // G302: data file
		return fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}
	return nil
}
