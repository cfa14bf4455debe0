package commands

import (
	"errors"
	"fmt"

	"github.com/yeahnangua/claude-code-bridge/internal/core/config"
	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
)

// loadConfig reads the config selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewManager(flagConfigPath).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newClient creates a daemon client for cfg.
func newClient(cfg *config.Config) *rpc.Client {
	return rpc.NewClient(cfg.Daemon.Kind, cfg.Daemon.StateFile)
}

// describeDaemonError turns client errors into user-facing advice.
func describeDaemonError(err error) error {
	switch {
	case errors.Is(err, rpc.ErrDaemonNotRunning):
		return fmt.Errorf("daemon is not running; start it with 'askd serve': %w", err)
	case errors.Is(err, rpc.ErrDaemonStale):
		return fmt.Errorf("daemon is not answering; restart it with 'askd serve': %w", err)
	}
	return err
}
