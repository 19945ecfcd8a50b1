// Command brokergw is the entry point for the brokerage gateway. It loads
// configuration, validates it, sets up signal handling, and runs one venue
// session until SIGINT or SIGTERM.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/brokergw/internal/app"
	"github.com/alanyoungcy/brokergw/internal/config"
	"github.com/alanyoungcy/brokergw/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptTo := flag.String("encrypt-secret", "", "read a venue API secret from stdin, encrypt it with $BROKERGW_VENUE_SECRET_PASSWORD and write it to this path")
	flag.Parse()

	if *encryptTo != "" {
		if err := encryptSecret(*encryptTo); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
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
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))
	logger.Info("brokerage gateway starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("session", application.Session()),
			slog.String("error", err.Error()),
		)
		application.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("brokerage gateway stopped", slog.String("session", application.Session()))
}

func encryptSecret(path string) error {
	password := os.Getenv("BROKERGW_VENUE_SECRET_PASSWORD")
	if password == "" {
		return errors.New("BROKERGW_VENUE_SECRET_PASSWORD is not set")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading secret: %w", err)
	}
	blob, err := crypto.EncryptSecret(strings.TrimSpace(line), password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
