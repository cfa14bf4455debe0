// Package registry resolves working directories to validated agent session
// handles and keeps those bindings fresh while the daemon runs.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yeahnangua/claude-code-bridge/internal/adapters/terminal"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
	"github.com/yeahnangua/claude-code-bridge/internal/filemanager"
	"github.com/yeahnangua/claude-code-bridge/internal/transcript"
)

// ErrPaneUnavailable is returned when a session's pane is gone and cannot be rediscovered.
var ErrPaneUnavailable = errors.New("pane not available")

// SessionFile is the per-project record written by the session launcher.
type SessionFile struct {
	SessionID        string `json:"session_id,omitempty"`
	RuntimeDir       string `json:"runtime_dir,omitempty"`
	Terminal         string `json:"terminal,omitempty"`
	PaneID           string `json:"pane_id,omitempty"`
	TmuxSession      string `json:"tmux_session,omitempty"`
	PaneTitleMarker  string `json:"pane_title_marker,omitempty"`
	WorkDir          string `json:"work_dir,omitempty"`
	CodexSessionPath string `json:"codex_session_path,omitempty"`
	CodexSessionID   string `json:"codex_session_id,omitempty"`
	Active           *bool  `json:"active,omitempty"`
}

// IsActive reports whether the file describes a running session.
func (f *SessionFile) IsActive() bool {
	return f.Active == nil || *f.Active
}

// Handle is one externally managed interactive session. Everything but the
// pane id and the transcript binding is fixed at load time.
type Handle struct {
	sessionFile string
	data        SessionFile
	kind        terminal.Kind
	backends    terminal.Resolver
	logger      logger.Logger

	mu      sync.RWMutex
	paneID  string
	logPath string
	logID   string
}

// NewHandle builds a handle from a decoded session file.
func NewHandle(sessionFile string, data SessionFile, backends terminal.Resolver, log logger.Logger) (*Handle, error) {
	kind, err := terminal.ParseKind(data.Terminal)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	pane := strings.TrimSpace(data.PaneID)
	if pane == "" {
		pane = strings.TrimSpace(data.TmuxSession)
	}
	return &Handle{
		sessionFile: sessionFile,
		data:        data,
		kind:        kind,
		backends:    backends,
		logger:      log,
		paneID:      pane,
		logPath:     data.CodexSessionPath,
		logID:       data.CodexSessionID,
	}, nil
}

// SessionFile returns the path of the file the handle was loaded from.
func (h *Handle) SessionFile() string { return h.sessionFile }

// Kind returns the terminal backend kind.
func (h *Handle) Kind() terminal.Kind { return h.kind }

// SessionID returns the launcher's session id, if any.
func (h *Handle) SessionID() string { return h.data.SessionID }

// WorkDir returns the project directory of the session.
func (h *Handle) WorkDir() string {
	if h.data.WorkDir != "" {
		return h.data.WorkDir
	}
	dir := filepath.Dir(h.sessionFile)
	if filepath.Base(dir) == ConfigDirName {
		dir = filepath.Dir(dir)
	}
	return dir
}

// PaneID returns the current pane reference.
func (h *Handle) PaneID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.paneID
}

// Binding returns the transcript binding for a new exchange.
func (h *Handle) Binding() transcript.Binding {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return transcript.Binding{
		LogPath:   h.logPath,
		SessionID: h.logID,
		WorkDir:   h.WorkDir(),
	}
}

// Backend returns the terminal backend for this session.
func (h *Handle) Backend() (terminal.Backend, error) {
	if h.backends == nil {
		return nil, terminal.ErrBackendUnavailable
	}
	return h.backends.ForKind(h.kind)
}

// EnsurePane returns a live pane id. A dead pane is rediscovered by its title
// marker when the backend supports it, and the session file is updated.
func (h *Handle) EnsurePane() (string, error) {
	backend, err := h.Backend()
	if err != nil {
		return "", err
	}
	pane := h.PaneID()
	if pane != "" && backend.IsAlive(pane) {
		return pane, nil
	}

	marker := strings.TrimSpace(h.data.PaneTitleMarker)
	finder, ok := backend.(terminal.PaneFinder)
	if marker == "" || !ok {
		return "", fmt.Errorf("%w: %s", ErrPaneUnavailable, paneLabel(pane))
	}
	found, ok := finder.FindPaneByTitle(marker)
	if !ok || !backend.IsAlive(found) {
		return "", fmt.Errorf("%w: %s (no pane titled %q)", ErrPaneUnavailable, paneLabel(pane), marker)
	}

	h.mu.Lock()
	h.paneID = found
	h.mu.Unlock()
	h.logger.Info("rediscovered pane by title", "session_file", h.sessionFile, "old", pane, "new", found)

	if err := h.updateFile(func(m map[string]any) bool {
		if m["pane_id"] == found {
			return false
		}
		m["pane_id"] = found
		return true
	}); err != nil {
		h.logger.Warn("failed to record rediscovered pane", "session_file", h.sessionFile, "error", err)
	}
	return found, nil
}

func paneLabel(pane string) string {
	if pane == "" {
		return "no pane recorded"
	}
	return pane
}

// UpdateLogBinding points future exchanges at logPath and, when known, the
// agent's session id. The session file is rewritten only when they change.
func (h *Handle) UpdateLogBinding(logPath, sessionID string) error {
	if logPath == "" {
		return nil
	}
	h.mu.Lock()
	changed := h.logPath != logPath || (sessionID != "" && h.logID != sessionID)
	h.logPath = logPath
	if sessionID != "" {
		h.logID = sessionID
	}
	h.mu.Unlock()
	if !changed {
		return nil
	}

	return h.updateFile(func(m map[string]any) bool {
		dirty := false
		if m["codex_session_path"] != logPath {
			m["codex_session_path"] = logPath
			dirty = true
		}
		if sessionID != "" && m["codex_session_id"] != sessionID {
			m["codex_session_id"] = sessionID
			dirty = true
		}
		return dirty
	})
}

var errUnchanged = errors.New("unchanged")

// updateFile applies fn to the raw session file so unknown fields survive.
func (h *Handle) updateFile(fn func(map[string]any) bool) error {
	if h.sessionFile == "" {
		return nil
	}
	// Never resurrect a session file the launcher removed.
	if _, err := os.Stat(h.sessionFile); err != nil {
		return fmt.Errorf("session file unavailable: %w", err)
	}
	fm := filemanager.NewManager[map[string]any]()
	err := fm.Update(context.Background(), h.sessionFile, func(data *map[string]any) error {
		if *data == nil {
			*data = make(map[string]any)
		}
		if !fn(*data) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}
