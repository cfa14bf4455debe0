package registry

import (
	"context"
	"os"
	"path/filepath"

	"github.com/yeahnangua/claude-code-bridge/internal/adapters/terminal"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
	"github.com/yeahnangua/claude-code-bridge/internal/filemanager"
)

const (
	// ConfigDirName is the per-project directory holding session files
	ConfigDirName = ".ccb_config"
	// SessionFileName is the Codex session file name
	SessionFileName = ".codex-session"
)

// Loader finds and decodes session files.
type Loader interface {
	// FindSessionFile returns the session file governing workDir.
	FindSessionFile(workDir string) (string, bool)
	// Load returns the active session for workDir.
	Load(workDir string) (*Handle, bool)
}

// FileLoader loads session files from disk
type FileLoader struct {
	backends terminal.Resolver
	files    *filemanager.Manager[SessionFile]
	logger   logger.Logger
}

// NewFileLoader creates a loader resolving backends through backends
func NewFileLoader(backends terminal.Resolver, log logger.Logger) *FileLoader {
	if log == nil {
		log = logger.Nop()
	}
	return &FileLoader{
		backends: backends,
		files:    filemanager.NewManager[SessionFile](),
		logger:   log,
	}
}

// FindSessionFile walks from workDir up to the filesystem root looking for
// .ccb_config/.codex-session, then the legacy .codex-session.
func (l *FileLoader) FindSessionFile(workDir string) (string, bool) {
	return FindSessionFile(workDir)
}

// FindSessionFile is the lookup used by FileLoader.
func FindSessionFile(workDir string) (string, bool) {
	dir, err := filepath.Abs(workDir)
	if err != nil {
		return "", false
	}
	for {
		for _, candidate := range []string{
			filepath.Join(dir, ConfigDirName, SessionFileName),
			filepath.Join(dir, SessionFileName),
		} {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// DefaultSessionFile is where a session file for workDir would be created.
func DefaultSessionFile(workDir string) string {
	return filepath.Join(workDir, ConfigDirName, SessionFileName)
}

// Load implements Loader
func (l *FileLoader) Load(workDir string) (*Handle, bool) {
	path, ok := l.FindSessionFile(workDir)
	if !ok {
		return nil, false
	}
	data, _, err := l.files.Read(context.Background(), path)
	if err != nil {
		l.logger.Warn("failed to read session file", "path", path, "error", err)
		return nil, false
	}
	if !data.IsActive() {
		return nil, false
	}
	h, err := NewHandle(path, *data, l.backends, l.logger)
	if err != nil {
		l.logger.Warn("invalid session file", "path", path, "error", err)
		return nil, false
	}
	return h, true
}
