package commands

import (
	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/cli/ui"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := newClient(cfg).Shutdown(cmd.Context()); err != nil {
			return describeDaemonError(err)
		}
		if ui.GlobalFormatter.IsJSON() {
			return ui.GlobalFormatter.Output(map[string]bool{"stopped": true})
		}
		return ui.GlobalFormatter.Output(ui.SuccessIcon + " " + ui.SuccessStyle.Render("shutdown requested") + "\n")
	},
}
