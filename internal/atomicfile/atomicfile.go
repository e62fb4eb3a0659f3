// Package atomicfile writes files so that readers observe either the old
// content or the new content, never a partial write. Shared by the token
// store, the host settings file, and backup archives.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirPerms is used when creating missing parent directories.
const DirPerms = 0o700

// Write replaces path with data (write-to-temp + fsync + rename) using perm
// for the final file.
func Write(path string, data []byte, perm os.FileMode) error {
	return WriteFrom(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteFrom is Write for content produced by a streaming callback.
func WriteFrom(path string, perm os.FileMode, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("atomicfile: creating directory %s: %w", dir, err)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("atomicfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, perm); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: setting permissions: %w", err)
	}

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: writing: %w", err)
	}

	// Flush before rename so a power loss cannot leave an empty file at path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicfile: renaming: %w", err)
	}

	success = true

	return nil
}
