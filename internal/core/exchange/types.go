// Package exchange drives one request/reply exchange with an interactive agent
// session: prompt delivery, anchor detection, reply accumulation, completion
// detection, and recovery from a stale transcript binding.
package exchange

import (
	"time"

	"github.com/yeahnangua/claude-code-bridge/internal/adapters/terminal"
	"github.com/yeahnangua/claude-code-bridge/internal/core/registry"
	"github.com/yeahnangua/claude-code-bridge/internal/transcript"
)

// Exit codes reported to clients.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitTimeout = 2
)

// User-facing replies for failed exchanges.
const (
	ReplyNoSession          = "❌ No active Codex session found for work_dir. Run 'ccb up codex' in that project first."
	ReplyPaneUnavailable    = "❌ Session pane not available: "
	ReplyBackendUnavailable = "❌ Terminal backend not available"
	ReplyPaneDied           = "❌ Codex pane died during request"
	ReplyInterrupted        = "❌ Codex interrupted. Please recover Codex manually, then retry. Skipping to next task."
)

// InterruptMarker is what Codex prints when its current turn is aborted.
const InterruptMarker = "■ Conversation interrupted"

// Request is an accepted client request.
type Request struct {
	ClientID   string
	WorkDir    string
	Message    string
	Timeout    time.Duration
	Quiet      bool
	OutputPath string
}

// Task is a Request queued on a session worker.
type Task struct {
	Request Request
	ReqID   string
	Created time.Time
}

// Result is the outcome of one Task.
type Result struct {
	ExitCode     int
	Reply        string
	ReqID        string
	SessionKey   string
	LogPath      string
	AnchorSeen   bool
	DoneSeen     bool
	FallbackScan bool
	// AnchorMs and DoneMs are nil when the event was not observed.
	AnchorMs *int64
	DoneMs   *int64
}

// Session is the part of a session handle an exchange needs.
type Session interface {
	EnsurePane() (string, error)
	Backend() (terminal.Backend, error)
	Binding() transcript.Binding
	UpdateLogBinding(logPath, sessionID string) error
}

// Resolver finds the session serving a work dir.
type Resolver interface {
	Resolve(workDir string) (Session, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(workDir string) (Session, bool)

// Resolve implements Resolver
func (f ResolverFunc) Resolve(workDir string) (Session, bool) { return f(workDir) }

// FromRegistry resolves sessions through a registry.
func FromRegistry(r *registry.Registry) Resolver {
	return ResolverFunc(func(workDir string) (Session, bool) {
		h, ok := r.Get(workDir)
		if !ok {
			return nil, false
		}
		return h, true
	})
}

// Failure builds the result for a task that could not run to completion.
func Failure(key string, task Task, err error) Result {
	return Result{
		ExitCode:   ExitError,
		Reply:      err.Error(),
		ReqID:      task.ReqID,
		SessionKey: key,
	}
}
