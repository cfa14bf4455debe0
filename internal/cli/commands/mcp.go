package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP bridge on stdio",
	Long: `Serve a Model Context Protocol server on stdio exposing the "ask" and "status"
tools. Tool calls are forwarded to the running daemon.`,
	RunE: runMCP,
}

var mcpWorkDir string

func init() {
	mcpCmd.Flags().StringVar(&mcpWorkDir, "work-dir", "", "Default work directory for ask calls (default current directory)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout carries the protocol, so logs stay on stderr and stay quiet
	log := CreateQuietLogger()

	opts := []mcp.Option{
		mcp.WithDefaultTimeout(cfg.Request.DefaultTimeout),
		mcp.WithLogger(log),
	}
	if mcpWorkDir != "" {
		opts = append(opts, mcp.WithWorkDir(mcpWorkDir))
	}
	server, err := mcp.NewServer(newClient(cfg), Version, opts...)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}
