// Package config loads the ask daemon configuration from YAML and the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yeahnangua/claude-code-bridge/internal/filemanager"
)

const (
	// AppDir is the directory name used under the user's config and cache dirs
	AppDir = "askd"
	// ConfigFile is the filename for the daemon configuration
	ConfigFile = "config.yaml"
)

// Manager handles loading and saving the daemon configuration
type Manager struct {
	configPath string
}

// NewManager creates a configuration manager for the given file.
// An empty path selects the default location.
func NewManager(configPath string) *Manager {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	return &Manager{configPath: configPath}
}

// Load reads the configuration. A missing file yields defaults.
func (m *Manager) Load() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(m.configPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", m.configPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration atomically under a file lock.
func (m *Manager) Save(ctx context.Context, cfg *Config) error {
	if err := m.files().Write(ctx, m.configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Exists reports whether the configuration file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

// Set changes one dotted key (e.g. "daemon.port") in the configuration file.
// A missing file is created from defaults first. The result must validate.
func (m *Manager) Set(ctx context.Context, key, value string) (*Config, error) {
	if !m.Exists() {
		if err := m.Save(ctx, DefaultConfig()); err != nil {
			return nil, err
		}
	}
	var updated Config
	err := m.files().Update(ctx, m.configPath, func(cfg *Config) error {
		if err := setKey(cfg, key, value); err != nil {
			return err
		}
		if err := ValidateConfig(cfg); err != nil {
			return err
		}
		updated = *cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m *Manager) files() *filemanager.Manager[Config] {
	return filemanager.NewManager[Config](filemanager.WithCodec(filemanager.YAML))
}

// setKey round-trips cfg through a YAML tree so values are parsed with the
// same rules as the config file.
func setKey(cfg *Config, key, value string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	node := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		node = next
	}
	last := parts[len(parts)-1]
	if _, ok := node[last]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	node[last] = parsed

	if data, err = yaml.Marshal(tree); err != nil {
		return err
	}
	var next Config
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*cfg = next
	return nil
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/askd/config.yaml or ~/.config/askd/config.yaml.
func DefaultConfigPath() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, AppDir, ConfigFile)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", AppDir, ConfigFile)
	}
	return filepath.Join(home, ".config", AppDir, ConfigFile)
}

func defaultStatePath(name string) string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CACHE_HOME")); xdg != "" {
		return filepath.Join(xdg, AppDir, name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppDir, name)
	}
	return filepath.Join(home, ".cache", AppDir, name)
}

func defaultTranscriptRoot() string {
	if codexHome := strings.TrimSpace(os.Getenv("CODEX_HOME")); codexHome != "" {
		return filepath.Join(codexHome, "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions")
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("ASKD_STATE_FILE")); v != "" {
		cfg.Daemon.StateFile = expandHome(v)
	}
	if v := strings.TrimSpace(os.Getenv("ASKD_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("CODEX_SESSION_ROOT")); v != "" {
		cfg.Transcript.Root = expandHome(v)
	}
	if v := strings.TrimSpace(os.Getenv("ASKD_TMUX_SOCKET")); v != "" {
		cfg.Terminal.TmuxSocket = v
	}
	if v := strings.TrimSpace(os.Getenv("ASKD_PANE_CHECK_INTERVAL")); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid ASKD_PANE_CHECK_INTERVAL: %w", err)
		}
		cfg.Exchange.PaneCheckInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("ASKD_REBIND_TAIL_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ASKD_REBIND_TAIL_BYTES: %w", err)
		}
		cfg.Exchange.RebindTailBytes = n
	}
	return nil
}

// parseSeconds accepts either a Go duration ("2s") or a bare number of seconds ("2.5").
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
