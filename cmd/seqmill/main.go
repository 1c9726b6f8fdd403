// ABOUTME: CLI entrypoint: config, logging, preflight, then the HTTP server.
// ABOUTME: SIGINT/SIGTERM trigger a graceful shutdown via context cancellation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seqmill/seqmill/config"
	"github.com/seqmill/seqmill/pipeline"
	"github.com/seqmill/seqmill/store"
	"github.com/seqmill/seqmill/web"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("seqmill", flag.ContinueOnError)
	var (
		configPath    = fs.String("config", "", "path to YAML config file")
		addr          = fs.String("addr", "", "listen address (overrides config)")
		dataDir       = fs.String("data-dir", "", "session data directory (overrides config)")
		skipPreflight = fs.Bool("skip-preflight", false, "skip startup tool checks")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *skipPreflight {
		cfg.SkipPreflight = true
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "dir", cfg.DataDir, "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !cfg.SkipPreflight {
		result := pipeline.RunPreflight(ctx, pipeline.BuildToolChecks(pipeline.RequiredTools))
		if !result.OK() {
			fmt.Fprintln(os.Stderr, result.Error())
			return 1
		}
		logger.Info("preflight passed", "checks", len(result.Passed))
	}

	runner := pipeline.NewRunner()
	runner.Timeout = cfg.CommandTimeout
	if cfg.Workers > 0 {
		runner.Workers = cfg.Workers
	}
	tk := &pipeline.Toolkit{Runner: runner, Resolver: pipeline.NewResolver()}

	exec := pipeline.NewExecutor(cfg.DataDir, pipeline.DefaultRegistry(tk))
	exec.TailBytes = cfg.LogTailBytes

	index, err := store.Open(cfg.IndexPath)
	if err != nil {
		logger.Error("open session index", "path", cfg.IndexPath, "error", err)
		return 1
	}
	defer func() { _ = index.Close() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	srv := web.NewServer(cfg.Addr, exec, index, logger)
	srv.MaxUploadBytes = int64(cfg.MaxUploadMB) << 20
	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		return 1
	}
	return 0
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
