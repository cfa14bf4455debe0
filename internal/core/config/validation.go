package config

import (
	"fmt"
	"strings"
)

// ValidateConfig validates the entire configuration
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Daemon.Kind) == "" {
		return fmt.Errorf("daemon.kind is required")
	}
	if cfg.Daemon.Port < 0 || cfg.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", cfg.Daemon.Port)
	}
	if cfg.Daemon.StateFile == "" {
		return fmt.Errorf("daemon.state_file is required")
	}

	durations := map[string]int64{
		"daemon.wait_margin":           int64(cfg.Daemon.WaitMargin),
		"request.default_timeout":      int64(cfg.Request.DefaultTimeout),
		"exchange.anchor_grace":        int64(cfg.Exchange.AnchorGrace),
		"exchange.collect_grace":       int64(cfg.Exchange.CollectGrace),
		"exchange.poll_slice":          int64(cfg.Exchange.PollSlice),
		"exchange.pane_check_interval": int64(cfg.Exchange.PaneCheckInterval),
		"registry.check_interval":      int64(cfg.Registry.CheckInterval),
		"registry.purge_after":         int64(cfg.Registry.PurgeAfter),
		"transcript.poll_interval":     int64(cfg.Transcript.PollInterval),
		"terminal.enter_delay":         int64(cfg.Terminal.EnterDelay),
	}
	for name, v := range durations {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if cfg.Exchange.PollSlice == 0 {
		return fmt.Errorf("exchange.poll_slice must be positive")
	}
	if cfg.Registry.CheckInterval == 0 {
		return fmt.Errorf("registry.check_interval must be positive")
	}
	if cfg.Exchange.RebindTailBytes < 0 {
		return fmt.Errorf("exchange.rebind_tail_bytes must not be negative")
	}
	if cfg.Exchange.InterruptScanLines < 0 {
		return fmt.Errorf("exchange.interrupt_scan_lines must not be negative")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format: %s", cfg.Logging.Format)
	}

	return nil
}
