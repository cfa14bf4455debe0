// Package terminal provides the backends that inject text into, and observe,
// the terminal panes hosting interactive agent sessions.
package terminal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind names a terminal backend variant.
type Kind string

const (
	// KindTmux drives panes through the tmux CLI
	KindTmux Kind = "tmux"
	// KindWezterm drives panes through `wezterm cli`
	KindWezterm Kind = "wezterm"
)

// ParseKind maps a session file's "terminal" field to a Kind; empty means tmux.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tmux":
		return KindTmux, nil
	case "wezterm":
		return KindWezterm, nil
	default:
		return "", fmt.Errorf("unsupported terminal: %s", s)
	}
}

// Backend defines the operations the daemon needs on a pane.
// SendText is fire-and-forget: it returns once the text has been handed to the terminal.
type Backend interface {
	Kind() Kind
	SendText(pane, text string) error
	IsAlive(pane string) bool
	GetText(pane string, lines int) (string, error)
}

// PaneFinder is implemented by backends that can rediscover a pane by its title marker.
type PaneFinder interface {
	FindPaneByTitle(marker string) (string, bool)
}

// Options configures backend construction.
type Options struct {
	// TmuxSocket selects an isolated tmux server (tmux -L <name>)
	TmuxSocket string
	// EnterDelay is the pause between pasting text and pressing Enter
	EnterDelay time.Duration
	// Runner executes CLI commands; nil uses os/exec
	Runner Runner
}

// Resolver returns the backend for a session's terminal kind.
type Resolver interface {
	ForKind(kind Kind) (Backend, error)
}

// Factory builds real backends from shared options.
type Factory struct {
	opts Options
}

// NewFactory creates a backend factory
func NewFactory(opts Options) *Factory {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &Factory{opts: opts}
}

// ForKind returns the backend for kind, or ErrBackendUnavailable when its CLI is missing.
func (f *Factory) ForKind(kind Kind) (Backend, error) {
	switch kind {
	case KindTmux, "":
		return NewTmux(f.opts)
	case KindWezterm:
		return NewWezterm(f.opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, kind)
	}
}

// sanitize drops carriage returns and surrounding whitespace from text to send.
func sanitize(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
