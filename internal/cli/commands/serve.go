package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/app"
	"github.com/yeahnangua/claude-code-bridge/internal/core/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ask daemon in the foreground",
	Long: `Run the ask daemon. It listens on a local TCP port, records its address and
auth token in the state file, and serves requests until interrupted or asked
to shut down.`,
	Example: `  # Start with defaults
  askd serve

  # Expose prometheus metrics
  askd serve --metrics-addr 127.0.0.1:9464`,
	RunE: runServe,
}

var (
	serveHost        string
	servePort        int
	serveStateFile   string
	serveMetricsAddr string
	serveLogFile     string
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", -1, "Listen port, 0 for ephemeral (overrides config)")
	serveCmd.Flags().StringVar(&serveStateFile, "state-file", "", "State file path (overrides config)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve /metrics on this address")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Log file path, '-' for stderr (overrides config)")
}

// applyServeFlags lets flags override the loaded config.
func applyServeFlags(cfg *config.Config) error {
	if serveHost != "" {
		cfg.Daemon.Host = serveHost
	}
	if servePort >= 0 {
		cfg.Daemon.Port = servePort
	}
	if serveStateFile != "" {
		cfg.Daemon.StateFile = serveStateFile
	}
	if serveMetricsAddr != "" {
		cfg.Metrics.Addr = serveMetricsAddr
	}
	switch serveLogFile {
	case "":
	case "-":
		cfg.Daemon.LogFile = ""
	default:
		cfg.Daemon.LogFile = serveLogFile
	}
	return config.ValidateConfig(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cfg); err != nil {
		return err
	}

	log, err := CreateLogger(cfg.Logging, cfg.Daemon.LogFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Refuse to clobber a live daemon's state file
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = newClient(cfg).Ping(pingCtx)
	cancel()
	if err == nil {
		return fmt.Errorf("a %sd daemon is already running (state file %s)", cfg.Daemon.Kind, cfg.Daemon.StateFile)
	}

	container, err := app.NewContainer(cfg, log)
	if err != nil {
		return err
	}

	log.Info("starting daemon", "kind", cfg.Daemon.Kind, "pid", os.Getpid(), "state_file", cfg.Daemon.StateFile)
	return container.Run(ctx)
}
