// Package main implements the entry point for Memoriam, a schema-driven
// object API over ArangoDB. Domains of classes and relations are loaded
// from YAML schemas and served through REST and read-only GraphQL.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/protojour/pymoriam/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "memoriam"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args, stdout)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cliCfg, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, a, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string, stdout io.Writer) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return nil, nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		return nil, nil, true, nil
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting Memoriam",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig layers the optional file over the defaults, then the
// environment, and validates the result.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// runWithSignalHandling serves until a shutdown signal, then stops every
// component within shutdownTimeout.
func runWithSignalHandling(ctx context.Context, a *app, shutdownTimeout time.Duration) error {
	errChan := make(chan error, 1)
	ready := make(chan struct{})
	go func() { errChan <- a.server.Start(ctx, ready) }()

	select {
	case <-ready:
		slog.Info("Memoriam started", "address", a.server.Addr().String())
	case err := <-errChan:
		_ = a.close(shutdownTimeout)
		return fmt.Errorf("start server: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case serveErr = <-errChan:
		slog.Error("Server stopped unexpectedly", "error", serveErr)
	}

	if err := a.shutdown(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Memoriam shutdown complete")
	return serveErr
}
