package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/core/config"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
)

// Global flags for logging configuration
var (
	flagLogLevel  string
	flagLogFormat string
)

// RegisterLoggerFlags registers global logging flags
func RegisterLoggerFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json); overrides config")
}

// CreateLogger builds a logger from config, CLI flags taking precedence.
// A non-empty file sends output there instead of stderr.
func CreateLogger(cfg config.LoggingConfig, file string) (logger.Logger, error) {
	levelName := cfg.Level
	if flagLogLevel != "" {
		levelName = flagLogLevel
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	formatName := cfg.Format
	if flagLogFormat != "" {
		formatName = flagLogFormat
	}
	format := logger.FormatText
	if formatName == "json" {
		format = logger.FormatJSON
	}

	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithOutput(os.Stderr),
	}
	if file != "" {
		opts = append(opts, logger.WithFile(file))
	}
	return logger.New(opts...), nil
}

// CreateQuietLogger creates a logger that only shows warnings and errors
func CreateQuietLogger() logger.Logger {
	return logger.New(
		logger.WithQuiet(),
		logger.WithFormat(logger.FormatText),
		logger.WithOutput(os.Stderr),
	)
}
