package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yeahnangua/claude-code-bridge/internal/cli/ui"
	"github.com/yeahnangua/claude-code-bridge/internal/core/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the daemon configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long:  "Display the configuration after defaults and environment overrides are applied",
	Example: `  # Show configuration as YAML
  askd config show

  # Show configuration as JSON
  askd --format json config show`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if ui.GlobalFormatter.IsJSON() {
			return ui.GlobalFormatter.Output(cfg)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
		return ui.GlobalFormatter.Output(string(data))
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.NewManager(flagConfigPath).GetConfigPath()
		if _, err := loadConfig(); err != nil {
			return fmt.Errorf("invalid configuration %s: %w", path, err)
		}
		return ui.GlobalFormatter.Output(ui.SuccessIcon + " " + ui.SuccessStyle.Render("configuration is valid") + " " + ui.DimStyle.Render(path) + "\n")
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ui.GlobalFormatter.Output(config.NewManager(flagConfigPath).GetConfigPath() + "\n")
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Example: `  # Create ~/.config/askd/config.yaml with defaults
  askd config init

  # Replace an existing file
  askd config init --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := config.NewManager(flagConfigPath)
		path := mgr.GetConfigPath()
		if mgr.Exists() && !configInitForce {
			return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", path)
		}
		if err := mgr.Save(cmd.Context(), config.DefaultConfig()); err != nil {
			return err
		}
		return ui.GlobalFormatter.Output(ui.SuccessIcon + " " + ui.SuccessStyle.Render("wrote configuration") + " " + ui.DimStyle.Render(path) + "\n")
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one configuration value",
	Example: `  # Listen on a fixed port
  askd config set daemon.port 4567

  # Wait longer for the prompt echo
  askd config set exchange.anchor_grace 3s`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := config.NewManager(flagConfigPath)
		cfg, err := mgr.Set(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if ui.GlobalFormatter.IsJSON() {
			return ui.GlobalFormatter.Output(cfg)
		}
		return ui.GlobalFormatter.Output(ui.SuccessIcon + " " + args[0] + " = " + args[1] + " " + ui.DimStyle.Render(mgr.GetConfigPath()) + "\n")
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing configuration file")
}
