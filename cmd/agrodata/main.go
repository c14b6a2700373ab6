// Package main is the entry point for the agrodata server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agrodata/config"
	"agrodata/internal/app"
	"agrodata/internal/logging"
	"agrodata/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to a YAML configuration file (default: config.yaml, then config/config.yaml)")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration
	result, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := result.Config

	// Setup structured logging
	logger := logging.New(cfg.Logging, cfg.Server.Production(), os.Stdout)
	slog.SetDefault(logger)

	// Log the version immediately on startup
	logger.Info("starting agrodata",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
		"environment", cfg.Server.Environment,
	)

	application, err := app.New(context.Background(), app.Config{
		AppConfig: result,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		logger.Error("server failed", "error", err)
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
}
