package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/cli/ui"
	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
)

// Version information - these will be set at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ui.GlobalFormatter.IsJSON() {
			return ui.GlobalFormatter.Output(map[string]any{
				"version":   Version,
				"gitCommit": GitCommit,
				"buildDate": BuildDate,
				"protocol":  rpc.ProtocolVersion,
				"goVersion": runtime.Version(),
				"os":        runtime.GOOS,
				"arch":      runtime.GOARCH,
			})
		}

		return ui.GlobalFormatter.Output(
			"askd version " + Version + "\n" +
				"  Git commit: " + GitCommit + "\n" +
				"  Build date: " + BuildDate + "\n" +
				"  Go version: " + runtime.Version() + "\n" +
				"  OS/Arch:    " + runtime.GOOS + "/" + runtime.GOARCH + "\n",
		)
	},
}
