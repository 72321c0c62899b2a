package main

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/config"
	"github.com/isdmx/sandboxd/httpserver"
	"github.com/isdmx/sandboxd/logger"
	"github.com/isdmx/sandboxd/mcpserver"
	"github.com/isdmx/sandboxd/metrics"
	"github.com/isdmx/sandboxd/sandbox"
	"github.com/isdmx/sandboxd/session"
)

// appOptions assembles the application graph for cfg.
func appOptions(cfg *config.Config) []fx.Option {
	return []fx.Option{
		fx.Supply(cfg),

		// Provide dependencies
		fx.Provide(
			logger.NewFromConfig,
			metrics.New,
			sandbox.NewProvisioner,
			sandbox.NewFallbackFromConfig,
			session.ConfigFrom,
			newRegistry,
			newBroker,
			session.NewSupervisor,
			newMCPServer,
			newHTTPServer,
		),

		fx.Invoke(registerHooks),

		// Use the application logger for fx logs
		fx.WithLogger(logger.NewFxLogger),

		// Draining sessions tears down containers, allow for it on top of HTTP shutdown.
		fx.StopTimeout(2 * cfg.ShutdownTimeout()),
	}
}

func newRegistry(log *zap.Logger, prov sandbox.Provisioner, collector *metrics.Collector, cfg session.Config) *session.Registry {
	return session.NewRegistry(log, prov, collector, cfg)
}

func newBroker(log *zap.Logger, registry *session.Registry, fallback *sandbox.FallbackExecutor) *session.Broker {
	return session.NewBroker(log, registry, fallback)
}

func newMCPServer(cfg *config.Config, log *zap.Logger, broker *session.Broker) *mcpserver.MCPServer {
	return mcpserver.New(cfg, log, broker)
}

func newHTTPServer(cfg *config.Config, log *zap.Logger, broker *session.Broker, collector *metrics.Collector, mcp *mcpserver.MCPServer) *httpserver.Server {
	return httpserver.New(cfg, log, broker, collector.Handler(), mcp.Handler())
}

// registerHooks binds the supervisor and the selected transport to the app
// lifecycle. Hooks stop in reverse order: the transport stops accepting work
// before the supervisor drains sessions.
func registerHooks(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	supervisor *session.Supervisor,
	httpSrv *httpserver.Server,
	mcp *mcpserver.MCPServer,
) error {
	lc.Append(fx.Hook{
		OnStart: supervisor.Start,
		OnStop:  supervisor.Stop,
	})

	switch cfg.Server.Transport {
	case "http":
		lc.Append(fx.Hook{
			OnStart: httpSrv.Start,
			OnStop:  httpSrv.Shutdown,
		})
	case "stdio":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := mcp.ServeStdio(); err != nil {
						log.Error("MCP stdio server failed", zap.Error(err))
					}
					if err := shutdowner.Shutdown(); err != nil {
						log.Error("failed to request shutdown", zap.Error(err))
					}
				}()
				return nil
			},
		})
	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}
	return nil
}

// run starts the application and blocks until a termination signal or a
// transport-initiated shutdown.
func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app := fx.New(appOptions(cfg)...)

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("starting sandboxd: %w", err)
	}

	sig := <-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("stopping sandboxd: %w", err)
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("exited with code %d", sig.ExitCode)
	}
	return nil
}
