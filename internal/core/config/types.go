package config

import (
	"runtime"
	"time"
)

// Config is the ask daemon configuration.
type Config struct {
	Daemon     DaemonConfig     `yaml:"daemon"`
	Request    RequestConfig    `yaml:"request"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Registry   RegistryConfig   `yaml:"registry"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Terminal   TerminalConfig   `yaml:"terminal"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DaemonConfig controls where the daemon listens and where it records itself.
type DaemonConfig struct {
	// Kind is the protocol prefix ("cask" gives "cask.request"/"cask.response").
	Kind       string        `yaml:"kind"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	StateFile  string        `yaml:"state_file"`
	LogFile    string        `yaml:"log_file"`
	WaitMargin time.Duration `yaml:"wait_margin"`
}

// RequestConfig holds defaults applied to incoming requests.
type RequestConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// ExchangeConfig tunes the reply-detection loop.
type ExchangeConfig struct {
	AnchorGrace        time.Duration `yaml:"anchor_grace"`
	CollectGrace       time.Duration `yaml:"collect_grace"`
	PollSlice          time.Duration `yaml:"poll_slice"`
	PaneCheckInterval  time.Duration `yaml:"pane_check_interval"`
	RebindTailBytes    int64         `yaml:"rebind_tail_bytes"`
	InterruptScanLines int           `yaml:"interrupt_scan_lines"`
}

// RegistryConfig tunes background session validation.
type RegistryConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	PurgeAfter    time.Duration `yaml:"purge_after"`
}

// TranscriptConfig locates agent transcript logs.
type TranscriptConfig struct {
	Root         string        `yaml:"root"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// TerminalConfig carries backend options.
type TerminalConfig struct {
	TmuxSocket string        `yaml:"tmux_socket"`
	EnterDelay time.Duration `yaml:"enter_delay"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	paneCheck := 2 * time.Second
	if runtime.GOOS == "windows" {
		// CLI probes are slow and can flash console windows there
		paneCheck = 5 * time.Second
	}

	return &Config{
		Daemon: DaemonConfig{
			Kind:       "cask",
			Host:       "127.0.0.1",
			Port:       0,
			StateFile:  defaultStatePath("caskd.json"),
			LogFile:    defaultStatePath("caskd.log"),
			WaitMargin: 5 * time.Second,
		},
		Request: RequestConfig{
			DefaultTimeout: 300 * time.Second,
		},
		Exchange: ExchangeConfig{
			AnchorGrace:        1500 * time.Millisecond,
			CollectGrace:       2 * time.Second,
			PollSlice:          500 * time.Millisecond,
			PaneCheckInterval:  paneCheck,
			RebindTailBytes:    2 * 1024 * 1024,
			InterruptScanLines: 15,
		},
		Registry: RegistryConfig{
			CheckInterval: 10 * time.Second,
			PurgeAfter:    300 * time.Second,
		},
		Transcript: TranscriptConfig{
			Root:         defaultTranscriptRoot(),
			PollInterval: 50 * time.Millisecond,
		},
		Terminal: TerminalConfig{
			EnterDelay: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
