package terminal

import (
	"fmt"
	"strings"
	"sync"
)

// MockBackend is a mock implementation of pane operations for testing
type MockBackend struct {
	mu         sync.RWMutex
	kind       Kind
	panes      map[string]*MockPane
	sent       []SentText
	sendError  error
	getTextErr error
	onSend     func(pane, text string)
}

// MockPane represents a mock terminal pane for testing
type MockPane struct {
	title string
	alive bool
	lines []string
}

// SentText records one SendText call
type SentText struct {
	Pane string
	Text string
}

// NewMockBackend creates a new mock backend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		kind:  KindTmux,
		panes: make(map[string]*MockPane),
	}
}

// AddPane registers a live pane with an optional title
func (m *MockBackend) AddPane(id, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panes[id] = &MockPane{title: title, alive: true}
}

// KillPane marks a pane as dead
func (m *MockBackend) KillPane(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.panes[id]; ok {
		p.alive = false
	}
}

// AppendOutput adds lines to a pane's screen
func (m *MockBackend) AppendOutput(id string, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.panes[id]; ok {
		p.lines = append(p.lines, strings.Split(text, "\n")...)
	}
}

// SetSendError sets an error to return from SendText
func (m *MockBackend) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendError = err
}

// SetGetTextError sets an error to return from GetText
func (m *MockBackend) SetGetTextError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getTextErr = err
}

// OnSend installs a hook invoked after each successful SendText
func (m *MockBackend) OnSend(fn func(pane, text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSend = fn
}

// Sent returns a copy of all texts sent so far
func (m *MockBackend) Sent() []SentText {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SentText, len(m.sent))
	copy(out, m.sent)
	return out
}

// Kind implements Backend
func (m *MockBackend) Kind() Kind { return m.kind }

// SendText implements Backend
func (m *MockBackend) SendText(pane, text string) error {
	m.mu.Lock()
	if m.sendError != nil {
		err := m.sendError
		m.mu.Unlock()
		return err
	}
	p, ok := m.panes[pane]
	if !ok || !p.alive {
		m.mu.Unlock()
		return fmt.Errorf("pane does not exist: %s", pane)
	}
	// Echo the input like a shell would
	p.lines = append(p.lines, strings.Split(text, "\n")...)
	m.sent = append(m.sent, SentText{Pane: pane, Text: text})
	hook := m.onSend
	m.mu.Unlock()

	if hook != nil {
		hook(pane, text)
	}
	return nil
}

// IsAlive implements Backend
func (m *MockBackend) IsAlive(pane string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.panes[pane]
	return ok && p.alive
}

// GetText implements Backend
func (m *MockBackend) GetText(pane string, lines int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getTextErr != nil {
		return "", m.getTextErr
	}
	p, ok := m.panes[pane]
	if !ok {
		return "", fmt.Errorf("pane does not exist: %s", pane)
	}
	out := p.lines
	if lines > 0 && len(out) > lines {
		out = out[len(out)-lines:]
	}
	return strings.Join(out, "\n"), nil
}

// FindPaneByTitle implements PaneFinder
func (m *MockBackend) FindPaneByTitle(marker string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if marker == "" {
		return "", false
	}
	for id, p := range m.panes {
		if p.alive && strings.HasPrefix(p.title, marker) {
			return id, true
		}
	}
	return "", false
}

// MockResolver hands out a fixed backend, or an error when unavailable
type MockResolver struct {
	Backend Backend
	Err     error
}

// ForKind implements Resolver
func (r MockResolver) ForKind(Kind) (Backend, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Backend == nil {
		return nil, ErrBackendUnavailable
	}
	return r.Backend, nil
}
