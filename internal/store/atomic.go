// Package store implements the durable, on-disk layout for hosts and
// agents described in §4.5: one directory per host, a nested agents/<id>/
// tree, activity files whose mtime is authoritative, and write-temp-then-
// rename atomicity so a reader never observes a half-written record.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"muster/pkg/logging"
)

const atomicSubsystem = "Store"

// WriteJSONAtomic marshals v and writes it to path via write-temp-then-
// rename: the temp file is created alongside path (same directory, same
// filesystem) so the final rename is atomic, and fsynced before rename so
// the rename itself can't outrun the data hitting disk.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data, 0o644)
}

// WriteFileAtomic writes data to path via a temp file in the same
// directory, fsynced, then renamed over the destination.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and unmarshals path into v. A caller whose record might be
// mid-write (the listing pipeline, §4.5) should treat any error here as "skip
// this record" rather than a crash; ReadJSON itself only reports the error.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		logging.Warn(atomicSubsystem, "skipping unparseable record %s: %v", path, err)
		return err
	}
	return nil
}

// Exists reports whether path names a regular, readable file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
