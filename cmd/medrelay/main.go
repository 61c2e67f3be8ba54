package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"medrelay/internal/app"
	"medrelay/internal/config"
	"medrelay/internal/logger"
)

// FUNCTIONAL DISCOVERY: Main entry point with signal management
// Graceful shutdown on SIGINT/SIGTERM ensures the revocation store is closed cleanly
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing without process signals
// The relay serves until ctx is cancelled, then shuts down within the configured timeout
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("medrelay", flag.ContinueOnError)
	flags.SetOutput(stdout)
	configPath := flags.String("config", os.Getenv("MEDRELAY_CONFIG_FILE"), "path to a JSON config file")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	// STEP 1: Load configuration with precedence (env > file > defaults)
	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// STEP 2: Structured logging for every component
	log := logger.SetupDefault(stdout, cfg.Log.Level)

	// STEP 3: Create and start the application
	application, err := app.NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// STEP 4: Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutdown requested", slog.String("cause", context.Cause(ctx).Error()))

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
