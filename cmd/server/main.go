package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"github.com/mnorrsken/memkeys/internal/config"
	"github.com/mnorrsken/memkeys/internal/engine"
	"github.com/mnorrsken/memkeys/internal/handler"
	"github.com/mnorrsken/memkeys/internal/logging"
	"github.com/mnorrsken/memkeys/internal/metrics"
	"github.com/mnorrsken/memkeys/internal/server"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown
const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:    "memkeys",
		Usage:   "in-memory Redis-compatible key-value server",
		Version: handler.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"MEMKEYS_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "RESP listen address",
			},
			&cli.StringFlag{
				Name:  "password",
				Usage: "require AUTH with this password",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "log in JSON format",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "log every command and reply at trace level",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Prometheus metrics listen address",
			},
			&cli.BoolFlag{
				Name:  "no-metrics",
				Usage: "disable the metrics endpoint",
			},
			&cli.StringFlag{
				Name:  "relay-dsn",
				Usage: "PostgreSQL DSN for cross-instance pub/sub",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagOverrides maps explicitly set flags to config keys.
func flagOverrides(c *cli.Context) map[string]any {
	out := make(map[string]any)
	strs := map[string]string{
		"addr":         "server.addr",
		"password":     "server.password",
		"log-level":    "log.level",
		"metrics-addr": "metrics.addr",
		"relay-dsn":    "pubsub.relay_dsn",
	}
	for flag, key := range strs {
		if c.IsSet(flag) {
			out[key] = c.String(flag)
		}
	}
	if c.IsSet("log-json") {
		out["log.json"] = c.Bool("log-json")
	}
	if c.IsSet("trace") {
		out["server.trace"] = c.Bool("trace")
	}
	if c.IsSet("no-metrics") {
		out["metrics.enabled"] = !c.Bool("no-metrics")
	}
	return out
}

func run(c *cli.Context) error {
	cfg, err := config.NewLoader(
		config.WithConfigFile(c.String("config")),
		config.WithOverrides(flagOverrides(c)),
	).Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	e, err := engine.New(*cfg, logger)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	metrics.SetKeyCounter(e.DBSize)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr, logger.Named("metrics"))
		if err := metricsSrv.Start(); err != nil {
			e.Close()
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	srv := server.New(cfg.Server.Addr, e.Handler(), logger.Named("server"), server.Options{Trace: cfg.Server.Trace})
	if err := srv.Start(); err != nil {
		e.Close()
		return err
	}

	if cfg.Server.Trace {
		logger.Info("RESP command tracing is enabled")
	}
	if cfg.Server.Password != "" {
		logger.Info("authentication is enabled")
	}
	logger.Info("memkeys is ready to accept connections", "addr", srv.Addr().String(), "version", handler.Version)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigChan
	logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	go func() {
		sig := <-sigChan
		logger.Warn("received second signal, forcing immediate shutdown", "signal", sig.String())
		os.Exit(1)
	}()

	done := make(chan struct{})
	go func() {
		shutdown(shutdownCtx, logger, srv, metricsSrv, e)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown completed")
	case <-shutdownCtx.Done():
		logger.Error("shutdown timed out, forcing exit")
		os.Exit(1)
	}
	return nil
}

// shutdown stops components in reverse order of startup.
func shutdown(ctx context.Context, logger hclog.Logger, srv *server.Server, metricsSrv *metrics.Server, e *engine.Engine) {
	logger.Info("stopping RESP server")
	srv.Stop()

	if metricsSrv != nil {
		logger.Info("stopping metrics server")
		if err := metricsSrv.Stop(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}

	logger.Info("closing engine")
	if err := e.Close(); err != nil {
		logger.Warn("engine close", "error", err)
	}
}
