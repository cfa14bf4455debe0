// Package commands implements the askd command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/cli/ui"
)

// Global flags
var (
	flagConfigPath   string
	flagOutputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "askd",
	Short: "Request/response bridge to interactive agent panes",
	Long: `askd runs a local daemon that delivers messages to interactive coding agents
running in terminal panes and returns their replies.

Requests for the same agent session are executed one at a time in arrival
order; different sessions run concurrently.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		format, err := ui.ParseFormat(flagOutputFormat)
		if err != nil {
			return err
		}
		formatter, err := ui.NewFormatterTo(format, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		ui.GlobalFormatter = formatter
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file (default $XDG_CONFIG_HOME/askd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagOutputFormat, "format", "pretty", "Output format (pretty, json)")
	RegisterLoggerFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
