package terminal

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

const (
	weztermCallTimeout = 5 * time.Second
	weztermArgvLimit   = 200
)

// Wezterm provides pane operations through `wezterm cli`
type Wezterm struct {
	binPath    string
	enterDelay time.Duration
	runner     Runner
}

type weztermPane struct {
	PaneID int    `json:"pane_id"`
	Title  string `json:"title"`
}

// NewWezterm creates a wezterm backend. WEZTERM_BIN overrides the binary.
func NewWezterm(opts Options) (*Wezterm, error) {
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	name := os.Getenv("WEZTERM_BIN")
	if name == "" {
		name = "wezterm"
	}
	binPath, err := runner.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: wezterm not found: %v", ErrBackendUnavailable, err)
	}
	return &Wezterm{binPath: binPath, enterDelay: opts.EnterDelay, runner: runner}, nil
}

// Kind implements Backend
func (w *Wezterm) Kind() Kind { return KindWezterm }

func (w *Wezterm) run(stdin []byte, args ...string) (string, error) {
	ctx, cancel := withTimeout(weztermCallTimeout)
	defer cancel()
	out, err := w.runner.Run(ctx, stdin, w.binPath, append([]string{"cli"}, args...)...)
	return string(out), err
}

// SendText sends text to the pane followed by a carriage return.
func (w *Wezterm) SendText(pane, text string) error {
	sanitized := sanitize(text)
	if sanitized == "" {
		return nil
	}
	pane = strings.TrimSpace(pane)

	var err error
	switch {
	case strings.Contains(sanitized, "\n"):
		// Bracketed paste keeps multi-line prompts in one input.
		_, err = w.run([]byte(sanitized), "send-text", "--pane-id", pane)
	case len(sanitized) <= weztermArgvLimit:
		_, err = w.run(nil, "send-text", "--pane-id", pane, "--no-paste", sanitized)
	default:
		_, err = w.run([]byte(sanitized), "send-text", "--pane-id", pane, "--no-paste")
	}
	if err != nil {
		return fmt.Errorf("failed to send text to wezterm pane: %w", err)
	}

	if w.enterDelay > 0 {
		time.Sleep(w.enterDelay)
	}
	if _, err := w.run([]byte("\r"), "send-text", "--pane-id", pane, "--no-paste"); err != nil {
		return fmt.Errorf("failed to send Enter key: %w", err)
	}
	return nil
}

func (w *Wezterm) listPanes() ([]weztermPane, error) {
	out, err := w.run(nil, "list", "--format", "json")
	if err != nil {
		return nil, err
	}
	var panes []weztermPane
	if err := json.Unmarshal([]byte(out), &panes); err != nil {
		return nil, fmt.Errorf("failed to parse wezterm pane list: %w", err)
	}
	return panes, nil
}

// IsAlive reports whether the pane is still listed by wezterm.
func (w *Wezterm) IsAlive(pane string) bool {
	pane = strings.TrimSpace(pane)
	if pane == "" {
		return false
	}
	panes, err := w.listPanes()
	if err != nil {
		return false
	}
	for _, p := range panes {
		if strconv.Itoa(p.PaneID) == pane {
			return true
		}
	}
	return false
}

// GetText returns the last lines of the pane with ANSI sequences removed.
func (w *Wezterm) GetText(pane string, lines int) (string, error) {
	out, err := w.run(nil, "get-text", "--pane-id", strings.TrimSpace(pane))
	if err != nil {
		return "", fmt.Errorf("failed to get pane text: %w", err)
	}
	return lastLines(ansi.Strip(out), lines), nil
}

// FindPaneByTitle returns the first pane whose title starts with marker.
func (w *Wezterm) FindPaneByTitle(marker string) (string, bool) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return "", false
	}
	panes, err := w.listPanes()
	if err != nil {
		return "", false
	}
	for _, p := range panes {
		if strings.HasPrefix(p.Title, marker) {
			return strconv.Itoa(p.PaneID), true
		}
	}
	return "", false
}

func lastLines(text string, n int) string {
	if n < 1 {
		n = 1
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
