//go:build !windows

package fileutil

import "os"

// restrictToOwner clears group and other bits.
func restrictToOwner(path string, dir bool) error {
	if dir {
		return os.Chmod(path, 0o700)
	}
	return os.Chmod(path, 0o600)
}
