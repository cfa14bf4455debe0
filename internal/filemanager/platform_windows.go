//go:build windows

package filemanager

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

const (
	errAccessDenied  syscall.Errno = 5
	errAlreadyExists syscall.Errno = 183

	readAttempts  = 5
	staleLockAge  = 5 * time.Second
	renameBackoff = 10 * time.Millisecond
)

// createLock uses a sidecar "<path>.lock" so the locked handle never blocks
// the rename of path.
func createLock(path string) *flock.Flock {
	lockPath := path + ".lock"
	_ = os.MkdirAll(filepath.Dir(lockPath), 0o755)
	return flock.New(lockPath)
}

// cleanupLockFile removes a sidecar lock that nobody touched recently.
func cleanupLockFile(path string) {
	lockPath := path + ".lock"
	if info, err := os.Stat(lockPath); err == nil && time.Since(info.ModTime()) > staleLockAge {
		_ = os.Remove(lockPath)
	}
}

// readFileWithRetry retries sharing violations with exponential backoff.
func readFileWithRetry(path string) ([]byte, error) {
	var err error
	for attempt := 0; attempt < readAttempts; attempt++ {
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			return data, nil
		}
		if !os.IsPermission(err) && !isSharingViolation(err) {
			return nil, err
		}
		time.Sleep(time.Duration(10<<attempt) * time.Millisecond)
	}
	return nil, err
}

func isSharingViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "being used by another process") ||
		strings.Contains(msg, "The process cannot access")
}

// atomicRename replaces dst, removing it first when Windows refuses to
// rename over an existing file.
func atomicRename(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == errAccessDenied || errno == errAlreadyExists) {
		_ = os.Remove(dst)
		time.Sleep(renameBackoff)
		return os.Rename(src, dst)
	}
	return err
}
