package terminal

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
)

const (
	tmuxCallTimeout = 5 * time.Second
	// Short single-line text sent to a session name goes through send-keys.
	legacySendKeysLimit = 200
)

// Tmux provides pane operations through the tmux CLI
type Tmux struct {
	tmuxPath   string
	socket     string
	enterDelay time.Duration
	runner     Runner
}

// NewTmux creates a tmux backend
func NewTmux(opts Options) (*Tmux, error) {
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	// Check if tmux is available
	tmuxPath, err := runner.LookPath("tmux")
	if err != nil {
		return nil, fmt.Errorf("%w: tmux not found: %v", ErrBackendUnavailable, err)
	}
	return &Tmux{
		tmuxPath:   tmuxPath,
		socket:     opts.TmuxSocket,
		enterDelay: opts.EnterDelay,
		runner:     runner,
	}, nil
}

// Kind implements Backend
func (t *Tmux) Kind() Kind { return KindTmux }

func (t *Tmux) run(stdin []byte, args ...string) (string, error) {
	ctx, cancel := withTimeout(tmuxCallTimeout)
	defer cancel()
	full := args
	if t.socket != "" {
		full = append([]string{"-L", t.socket}, args...)
	}
	out, err := t.runner.Run(ctx, stdin, t.tmuxPath, full...)
	return string(out), err
}

// looksLikePaneID reports whether s is a tmux pane id such as %12.
func looksLikePaneID(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "%")
}

// looksLikeTarget reports whether s addresses a pane rather than naming a session.
func looksLikeTarget(s string) bool {
	s = strings.TrimSpace(s)
	return looksLikePaneID(s) || strings.Contains(s, ":") || strings.Contains(s, ".")
}

// SendText pastes text into the pane and presses Enter.
func (t *Tmux) SendText(pane, text string) error {
	sanitized := sanitize(text)
	if sanitized == "" {
		return nil
	}

	if !looksLikeTarget(pane) && !strings.Contains(sanitized, "\n") && len(sanitized) <= legacySendKeysLimit {
		// Use -l flag to send keys literally (don't expand key bindings)
		if _, err := t.run(nil, "send-keys", "-t", pane, "-l", sanitized); err != nil {
			return fmt.Errorf("failed to send keys to tmux session: %w", err)
		}
		if _, err := t.run(nil, "send-keys", "-t", pane, "Enter"); err != nil {
			return fmt.Errorf("failed to send Enter key: %w", err)
		}
		return nil
	}

	if looksLikeTarget(pane) {
		t.exitCopyMode(pane)
	}

	buffer := "askd-" + uuid.NewString()[:8]
	if _, err := t.run([]byte(sanitized), "load-buffer", "-b", buffer, "-"); err != nil {
		return fmt.Errorf("failed to load tmux buffer: %w", err)
	}
	defer func() {
		_, _ = t.run(nil, "delete-buffer", "-b", buffer)
	}()

	if _, err := t.run(nil, "paste-buffer", "-p", "-t", pane, "-b", buffer); err != nil {
		return fmt.Errorf("failed to paste into tmux pane: %w", err)
	}
	if t.enterDelay > 0 {
		time.Sleep(t.enterDelay)
	}
	if _, err := t.run(nil, "send-keys", "-t", pane, "Enter"); err != nil {
		return fmt.Errorf("failed to send Enter key: %w", err)
	}
	return nil
}

// exitCopyMode cancels copy mode so pasted text reaches the program.
func (t *Tmux) exitCopyMode(pane string) {
	out, err := t.run(nil, "display-message", "-p", "-t", pane, "#{pane_in_mode}")
	if err == nil && strings.TrimSpace(out) == "1" {
		_, _ = t.run(nil, "send-keys", "-t", pane, "-X", "cancel")
	}
}

// IsAlive reports whether the pane exists and its process has not exited.
func (t *Tmux) IsAlive(pane string) bool {
	pane = strings.TrimSpace(pane)
	if pane == "" {
		return false
	}
	if looksLikeTarget(pane) {
		out, err := t.run(nil, "display-message", "-p", "-t", pane, "#{pane_dead}")
		return err == nil && strings.TrimSpace(out) == "0"
	}
	_, err := t.run(nil, "has-session", "-t", pane)
	return err == nil
}

// GetText captures the last lines of the pane with ANSI sequences removed.
func (t *Tmux) GetText(pane string, lines int) (string, error) {
	if lines < 1 {
		lines = 1
	}
	out, err := t.run(nil, "capture-pane", "-t", pane, "-p", "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", fmt.Errorf("failed to capture pane: %w", err)
	}
	return ansi.Strip(out), nil
}

// FindPaneByTitle returns the first pane whose title starts with marker.
func (t *Tmux) FindPaneByTitle(marker string) (string, bool) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return "", false
	}
	out, err := t.run(nil, "list-panes", "-a", "-F", "#{pane_id}\t#{pane_title}")
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(out, "\n") {
		id, title, ok := strings.Cut(strings.TrimRight(line, "\r"), "\t")
		if !ok {
			continue
		}
		if strings.HasPrefix(title, marker) && looksLikePaneID(id) {
			return strings.TrimSpace(id), true
		}
	}
	return "", false
}
