// Package atomicfile provides the temp-file-then-rename write discipline
// shared by the manifest and lock components (spec §4.3, §4.4: writes are
// committed only by an atomic-write operation; spec §7 I/O errors must
// leave the filesystem in its pre-call state).
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write writes data to path by first writing to a sibling temp file and
// renaming it into place, so a crash or cancellation between the write
// and the rename never leaves a partially written file at path.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Clean up the temp file on any early return; once Rename succeeds
	// this is a no-op because the file no longer exists under tmpName.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
