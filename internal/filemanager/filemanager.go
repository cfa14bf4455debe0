// Package filemanager provides thread-safe and process-safe file operations with CAS support.
// It backs the daemon state file and the per-project session files, both of which
// may be read by other processes while the daemon rewrites them.
package filemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrConcurrentModification is returned when a file has been modified since it was read
var ErrConcurrentModification = errors.New("file was modified concurrently")

// ErrLockTimeout is returned when acquiring a file lock times out
var ErrLockTimeout = errors.New("timeout acquiring file lock")

// FileInfo represents metadata about a file used for CAS operations
type FileInfo struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// UpdateFunc is a function that modifies data in-place
type UpdateFunc[T any] func(data *T) error

// Manager provides thread-safe and process-safe file operations with CAS support
type Manager[T any] struct {
	lockTimeout time.Duration
	codec       Codec
	perm        os.FileMode
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	lockTimeout time.Duration
	codec       Codec
	perm        os.FileMode
}

// WithLockTimeout sets the maximum time to wait for a file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithCodec selects the on-disk encoding. JSON is the default.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithPerm sets the permission bits of written files.
func WithPerm(perm os.FileMode) Option {
	return func(o *options) { o.perm = perm }
}

// NewManager creates a new file manager
func NewManager[T any](opts ...Option) *Manager[T] {
	o := options{
		lockTimeout: 5 * time.Second,
		codec:       JSON,
		perm:        0o644,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[T]{
		lockTimeout: o.lockTimeout,
		codec:       o.codec,
		perm:        o.perm,
	}
}

// Read reads a file with a shared lock
func (m *Manager[T]) Read(ctx context.Context, path string) (*T, *FileInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, err
	}

	lock, err := m.acquire(ctx, path, true)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = lock.Unlock() }()

	data, err := readFileWithRetry(path)
	if err != nil {
		return nil, nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}

	info := &FileInfo{
		Path:    path,
		ModTime: stat.ModTime(),
		Size:    stat.Size(),
	}

	var result T
	if err := m.codec.Unmarshal(data, &result); err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &result, info, nil
}

const lockRetryDelay = 100 * time.Millisecond

// acquire takes a shared or exclusive lock on path within the manager's lock timeout.
func (m *Manager[T]) acquire(ctx context.Context, path string, shared bool) (*flock.Flock, error) {
	lock := createLock(path)
	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	try, mode := lock.TryLockContext, "write"
	if shared {
		try, mode = lock.TryRLockContext, "read"
	}
	locked, err := try(lockCtx, lockRetryDelay)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, ErrLockTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s lock on %s: %w", mode, path, err)
	}
	if !locked {
		return nil, ErrLockTimeout
	}
	return lock, nil
}

// Write writes a file with an exclusive lock (no CAS check)
func (m *Manager[T]) Write(ctx context.Context, path string, data *T) error {
	return m.write(ctx, path, data, nil)
}

// WriteWithCAS writes a file only if it hasn't changed since the provided FileInfo
func (m *Manager[T]) WriteWithCAS(ctx context.Context, path string, data *T, expectedInfo *FileInfo) error {
	return m.write(ctx, path, data, expectedInfo)
}

func (m *Manager[T]) write(ctx context.Context, path string, data *T, expectedInfo *FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock, err := m.acquire(ctx, path, false)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if expectedInfo != nil {
		stat, err := os.Stat(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat file: %w", err)
		}
		if err == nil {
			if !stat.ModTime().Equal(expectedInfo.ModTime) || stat.Size() != expectedInfo.Size {
				return ErrConcurrentModification
			}
		}
	}

	encoded, err := m.codec.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	return WriteFileAtomic(path, encoded, m.perm)
}

// Update reads a file, applies an update function, and writes it back with CAS
func (m *Manager[T]) Update(ctx context.Context, path string, updateFunc UpdateFunc[T]) error {
	const maxRetries = 10

	for i := 0; i < maxRetries; i++ {
		data, info, err := m.Read(ctx, path)
		if err != nil {
			if os.IsNotExist(err) {
				var newData T
				if err := updateFunc(&newData); err != nil {
					return fmt.Errorf("update function failed: %w", err)
				}
				return m.Write(ctx, path, &newData)
			}
			return fmt.Errorf("failed to read file: %w", err)
		}

		if err := updateFunc(data); err != nil {
			return fmt.Errorf("update function failed: %w", err)
		}

		if err := m.WriteWithCAS(ctx, path, data, info); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				continue
			}
			return err
		}

		return nil
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, ErrConcurrentModification)
}

// Delete removes a file with an exclusive lock
func (m *Manager[T]) Delete(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}

	lock, err := m.acquire(ctx, path, false)
	if err != nil {
		return err
	}
	// Windows cannot remove a file while a handle to it is open.
	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock file: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	cleanupLockFile(path)

	return nil
}

// WriteFileAtomic writes data to a uniquely named temp file next to path,
// syncs it and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := fmt.Sprintf("%s.%d.%d.tmp", path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tempFile, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if f, err := os.OpenFile(tempFile, os.O_RDWR, perm); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}

	if err := atomicRename(tempFile, path); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
