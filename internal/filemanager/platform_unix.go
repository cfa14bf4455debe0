//go:build !windows

package filemanager

import (
	"os"

	"github.com/gofrs/flock"
)

// createLock locks the target itself; renaming over a locked file is fine here.
func createLock(path string) *flock.Flock {
	return flock.New(path)
}

func cleanupLockFile(string) {}

func readFileWithRetry(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func atomicRename(src, dst string) error {
	return os.Rename(src, dst)
}
