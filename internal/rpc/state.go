package rpc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yeahnangua/claude-code-bridge/internal/filemanager"
)

// ErrDaemonNotRunning means no usable state file exists.
var ErrDaemonNotRunning = errors.New("daemon not running")

// State is the daemon's advertisement of where and how to reach it.
type State struct {
	PID         int       `json:"pid"`
	Host        string    `json:"host"`
	ConnectHost string    `json:"connect_host"`
	Port        int       `json:"port"`
	Token       string    `json:"token"`
	StartedAt   time.Time `json:"started_at"`
}

// Address returns the host:port clients should dial.
func (s *State) Address() string {
	host := s.ConnectHost
	if host == "" {
		host = s.Host
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// connectHost maps wildcard bind addresses to loopback.
func connectHost(host string) string {
	switch host {
	case "", "0.0.0.0":
		return "127.0.0.1"
	case "::", "[::]":
		return "::1"
	}
	return host
}

func stateManager() *filemanager.Manager[State] {
	return filemanager.NewManager[State](filemanager.WithPerm(0o600))
}

// WriteState records st at path, readable only by the owner.
func WriteState(ctx context.Context, path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := stateManager().Write(ctx, path, st); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// ReadState loads the state file. A missing or corrupt file is reported as
// ErrDaemonNotRunning.
func ReadState(ctx context.Context, path string) (*State, error) {
	st, _, err := stateManager().Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	if st.Port <= 0 || st.Token == "" {
		return nil, fmt.Errorf("%w: incomplete state file %s", ErrDaemonNotRunning, path)
	}
	return st, nil
}

// RemoveStateIfOwned deletes the state file only if it still carries token,
// so a newer daemon's advertisement is left alone.
func RemoveStateIfOwned(ctx context.Context, path, token string) error {
	st, _, err := stateManager().Read(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if st.Token != token {
		return nil
	}
	return stateManager().Delete(ctx, path)
}

// RandomToken returns a 32-byte hex authentication token.
func RandomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
