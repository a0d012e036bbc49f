// Package fileutil writes catalog overlays and audit databases with
// owner-only access.
//
// On Unix, mode bits (0600, 0700) are enforced. On Windows a protected
// DACL grants access to the current user alone, since mode bits are
// ignored there.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data. The content goes to a hidden
// temporary file in the same directory first and is renamed into place,
// so a catalog watcher never observes a half-written file.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := SecureMkdirAll(dir); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := restrictToOwner(tmpPath, false); err != nil {
		tmp.Close()
		return err
	}
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
	return os.Rename(tmpPath, path)
}

// PreparePrivateFile makes sure path exists and is readable by the owner
// only, creating parent directories as needed. SQLite creates missing
// database files with the process umask; calling this first keeps audit
// records private.
func PreparePrivateFile(path string) error {
	if err := SecureMkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return restrictToOwner(path, false)
}

// SecureMkdirAll creates a directory tree and restricts the leaf to the
// current user.
func SecureMkdirAll(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New(path + " is not a directory")
	}
	return restrictToOwner(path, true)
}
