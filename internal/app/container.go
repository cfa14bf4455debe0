// Package app wires the ask daemon's components together
package app

import (
	"context"
	"fmt"

	"github.com/yeahnangua/claude-code-bridge/internal/adapters/terminal"
	"github.com/yeahnangua/claude-code-bridge/internal/core/config"
	"github.com/yeahnangua/claude-code-bridge/internal/core/exchange"
	"github.com/yeahnangua/claude-code-bridge/internal/core/logger"
	"github.com/yeahnangua/claude-code-bridge/internal/core/registry"
	"github.com/yeahnangua/claude-code-bridge/internal/core/worker"
	"github.com/yeahnangua/claude-code-bridge/internal/metrics"
	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
	"github.com/yeahnangua/claude-code-bridge/internal/transcript"
)

// Container holds the daemon's components and their dependencies
type Container struct {
	Config *config.Config
	Logger logger.Logger

	Metrics  *metrics.Metrics
	Backends terminal.Resolver
	Loader   registry.Loader
	Registry *registry.Registry
	Opener   transcript.Opener
	Executor *exchange.Executor
	Pool     *worker.Pool[exchange.Task, exchange.Result]
	Server   *rpc.Server
}

// Option overrides a component, mainly for tests.
type Option func(*Container)

// WithBackends replaces the terminal backend resolver.
func WithBackends(r terminal.Resolver) Option {
	return func(c *Container) { c.Backends = r }
}

// WithOpener replaces the transcript opener.
func WithOpener(o transcript.Opener) Option {
	return func(c *Container) { c.Opener = o }
}

// NewContainer creates all components in dependency order
func NewContainer(cfg *config.Config, log logger.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Container{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Terminal backends (no dependencies)
	if c.Backends == nil {
		c.Backends = terminal.NewFactory(terminal.Options{
			TmuxSocket: cfg.Terminal.TmuxSocket,
			EnterDelay: cfg.Terminal.EnterDelay,
		})
	}

	// Session registry (depends on backends)
	c.Loader = registry.NewFileLoader(c.Backends, log.With("component", "loader"))
	c.Registry = registry.New(c.Loader,
		registry.WithLogger(log.With("component", "registry")),
		registry.WithCheckInterval(cfg.Registry.CheckInterval),
		registry.WithPurgeAfter(cfg.Registry.PurgeAfter),
	)

	// Transcript source (no dependencies)
	if c.Opener == nil {
		c.Opener = transcript.NewRolloutOpener(cfg.Transcript.Root, cfg.Transcript.PollInterval, log.With("component", "transcript"))
	}

	// Executor (depends on registry and transcript)
	c.Executor = exchange.NewExecutor(
		exchange.FromRegistry(c.Registry),
		c.Opener,
		exchange.TimingFromConfig(cfg.Exchange),
		exchange.WithLogger(log.With("component", "exchange")),
		exchange.WithRebindHook(c.Metrics.RecordRebind),
	)

	// Worker pool (depends on executor)
	c.Pool = worker.NewPool(c.Executor.Execute, exchange.Failure,
		worker.WithLogger(log.With("component", "worker")),
		worker.WithWorkerCountHook(c.Metrics.SetWorkers),
	)

	// RPC server (depends on pool and registry)
	server, err := rpc.NewServer(
		rpc.ServerConfig{
			Kind:           cfg.Daemon.Kind,
			Host:           cfg.Daemon.Host,
			Port:           cfg.Daemon.Port,
			StateFile:      cfg.Daemon.StateFile,
			WaitMargin:     cfg.Daemon.WaitMargin,
			DefaultTimeout: cfg.Request.DefaultTimeout,
		},
		c.Pool,
		c.SessionKey,
		c.Registry.Status,
		rpc.WithServerLogger(log.With("component", "rpc")),
		rpc.WithMetrics(c.Metrics),
	)
	if err != nil {
		c.Pool.Close()
		return nil, fmt.Errorf("failed to create rpc server: %w", err)
	}
	c.Server = server

	return c, nil
}

// SessionKey maps a work dir to its worker key. The session file is read
// without pane validation; the executor validates through the registry.
func (c *Container) SessionKey(workDir string) string {
	h, ok := c.Loader.Load(workDir)
	if !ok {
		return registry.UnknownKey
	}
	return registry.ComputeKey(h)
}

// Run listens, serves until ctx is done or a shutdown request arrives, and
// releases every component.
func (c *Container) Run(ctx context.Context) error {
	if err := c.Server.Listen(ctx); err != nil {
		c.Pool.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.Registry.Start(ctx)
	defer c.Registry.Stop()

	if addr := c.Config.Metrics.Addr; addr != "" {
		go func() {
			c.Logger.Info("serving metrics", "addr", addr)
			if err := c.Metrics.Serve(ctx, addr); err != nil {
				c.Logger.Warn("metrics server failed", "addr", addr, "error", err)
			}
		}()
	}

	err := c.Server.Serve(ctx)
	cancel()
	c.Pool.Close()
	return err
}
