// Package transcript reads the role-tagged event stream an agent writes to its
// own session logs, and resumes that stream from a saved cursor.
package transcript

import (
	"context"
	"time"
)

// Role tags who produced an event.
type Role string

const (
	// RoleUser marks the echo of text typed into the agent
	RoleUser Role = "user"
	// RoleAssistant marks agent output
	RoleAssistant Role = "assistant"
)

// Event is one role-tagged text entry from a transcript.
type Event struct {
	Role Role
	Text string
}

// Cursor is a resumable position inside a transcript log.
type Cursor struct {
	LogPath string `json:"log_path,omitempty"`
	Offset  int64  `json:"offset"`
}

// Binding tells a Source which log to follow.
type Binding struct {
	// LogPath is the last known log for the session; may be empty
	LogPath string
	// SessionID restricts the source to logs of one agent session; may be empty
	SessionID string
	// WorkDir selects logs whose recorded cwd belongs to the same project
	WorkDir string
}

// Source yields transcript events after a cursor.
type Source interface {
	// CaptureState returns a cursor at the current end of the bound log.
	CaptureState() Cursor
	// TailState returns a cursor at most tailBytes before the end of the bound log.
	TailState(tailBytes int64) Cursor
	// WaitForEvent blocks up to timeout for the next event after cur.
	// ok is false when the timeout elapsed without an event.
	WaitForEvent(ctx context.Context, cur Cursor, timeout time.Duration) (ev Event, next Cursor, ok bool)
	// CurrentLogPath returns the log the source is following, or "".
	CurrentLogPath() string
	Close() error
}

// IdentityReporter is implemented by sources that can read the agent's own
// session id from a log.
type IdentityReporter interface {
	SessionIDFromLog(path string) (string, bool)
}

// Opener creates Sources for a binding.
type Opener interface {
	Open(b Binding) (Source, error)
}
