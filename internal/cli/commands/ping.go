package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/cli/ui"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		start := time.Now()
		if err := newClient(cfg).Ping(cmd.Context()); err != nil {
			return describeDaemonError(err)
		}
		rtt := time.Since(start)

		if ui.GlobalFormatter.IsJSON() {
			return ui.GlobalFormatter.Output(map[string]any{
				"ok":     true,
				"kind":   cfg.Daemon.Kind,
				"rtt_ms": rtt.Milliseconds(),
			})
		}
		return ui.GlobalFormatter.Output(ui.SuccessIcon + " " + ui.SuccessStyle.Render(cfg.Daemon.Kind+"d is running") + "\n")
	},
}
