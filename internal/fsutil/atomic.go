// internal/fsutil/atomic.go
package fsutil

import (
	"os"
	"path/filepath"
	"strings"

	"strata/internal/errors"
)

// WriteFileAtomic writes data to a temp file in path's directory, syncs it and renames
// it over path. Readers observe either the old file or the complete new one. On failure
// the temp file is removed and an AtomicWriteFailed error is returned.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.AtomicWriteFailed(path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.AtomicWriteFailed(path, err)
	}
	tmpName := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return errors.AtomicWriteFailed(path, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.AtomicWriteFailed(path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.AtomicWriteFailed(path, err)
	}
	return nil
}

// IsTempFile reports whether name looks like a WriteFileAtomic leftover.
func IsTempFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.Contains(base, ".tmp-")
}
