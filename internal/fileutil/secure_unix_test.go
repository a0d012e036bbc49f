//go:build !windows

package fileutil

import (
	"os"
	"testing"
)

// assertOwnerOnly checks that neither group nor other has any permission.
func assertOwnerOnly(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat %s: %v", path, err)
	}
	want := os.FileMode(0o600)
	if info.IsDir() {
		want = 0o700
	}
	if mode := info.Mode().Perm(); mode != want {
		t.Errorf("%s mode = %04o, want %04o", path, mode, want)
	}
}
