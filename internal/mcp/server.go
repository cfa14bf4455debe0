package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/yeahnangua/claude-code-bridge/internal/core/exchange"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
)

// Daemon is the part of the daemon client the bridge needs.
type Daemon interface {
	Ask(ctx context.Context, req rpc.AskRequest) (*rpc.Response, error)
	Status(ctx context.Context) (*rpc.DaemonStatus, error)
}

// Server implements the MCP bridge using mcp-go
type Server struct {
	mcpServer      *server.MCPServer
	daemon         Daemon
	workDir        string
	defaultTimeout time.Duration
	logger         logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithWorkDir sets the work dir used when a call omits one.
func WithWorkDir(dir string) Option {
	return func(s *Server) { s.workDir = dir }
}

// WithDefaultTimeout sets the timeout used when a call omits one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Server) { s.defaultTimeout = d }
}

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.logger = log }
}

// NewServer creates an MCP server forwarding tool calls to daemon.
func NewServer(daemon Daemon, version string, opts ...Option) (*Server, error) {
	s := &Server{
		daemon:         daemon,
		defaultTimeout: 300 * time.Second,
		logger:         logger.Nop(),
		mcpServer: server.NewMCPServer(
			"askd",
			version,
			server.WithToolCapabilities(false),
			server.WithLogging(),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		s.workDir = wd
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerTools() error {
	askOpts, err := WithStructOptions(
		"Send a message to the interactive agent running for a project and wait for its reply. "+
			"Requests to the same session are answered one at a time in arrival order.",
		AskParams{},
	)
	if err != nil {
		return fmt.Errorf("failed to build ask tool: %w", err)
	}
	s.mcpServer.AddTool(mcp.NewTool("ask", askOpts...), s.handleAsk)

	statusOpts, err := WithStructOptions(
		"Report the ask daemon's workers and the agent sessions it knows about.",
		StatusParams{},
	)
	if err != nil {
		return fmt.Errorf("failed to build status tool: %w", err)
	}
	s.mcpServer.AddTool(mcp.NewTool("status", statusOpts...), s.handleStatus)
	return nil
}

// Start serves MCP over stdio until the client disconnects or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("mcp bridge serving on stdio", "work_dir", s.workDir)
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve runs the MCP protocol over in and out. Cancelling ctx is a clean stop.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params AskParams
	if err := UnmarshalArgs(request, &params); err != nil {
		return nil, InvalidParameterError("arguments", err.Error())
	}
	if params.Message == "" {
		return nil, InvalidParameterError("message", "non-empty text")
	}
	if params.TimeoutS < 0 {
		return nil, InvalidParameterError("timeout_s", "a positive number of seconds")
	}

	workDir := params.WorkDir
	if workDir == "" {
		workDir = s.workDir
	}
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	timeout := s.defaultTimeout
	if params.TimeoutS > 0 {
		timeout = time.Duration(params.TimeoutS * float64(time.Second))
	}

	resp, err := s.daemon.Ask(ctx, rpc.AskRequest{
		WorkDir: workDir,
		Message: params.Message,
		Timeout: timeout,
	})
	if err != nil {
		return nil, daemonError(err)
	}

	s.logger.Debug("ask finished", "work_dir", workDir, "exit", resp.ExitCode, "req_id", resp.ReqID)
	switch resp.ExitCode {
	case exchange.ExitOK:
		return mcp.NewToolResultText(resp.Reply), nil
	case exchange.ExitTimeout:
		msg := fmt.Sprintf("exit_code=%d: no complete reply within %s", resp.ExitCode, timeout)
		if resp.Reply != "" {
			msg += "\n\n" + resp.Reply
		}
		return mcp.NewToolResultError(msg), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("exit_code=%d: %s", resp.ExitCode, resp.Reply)), nil
	}
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.daemon.Status(ctx)
	if err != nil {
		return nil, daemonError(err)
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
