package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mindshift/protocol-engine/internal/config"
	"github.com/mindshift/protocol-engine/internal/interpret"
	"github.com/mindshift/protocol-engine/internal/runtime"
	"github.com/mindshift/protocol-engine/internal/server"
	"github.com/mindshift/protocol-engine/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("protocol-engine", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	configPath := os.Getenv("SHIFT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	opts := []runtime.Option{
		runtime.WithFileConfig(configPath),
		runtime.WithSQLite(cfg.Storage.Path),
		runtime.WithLogger(logger),
	}
	if cfg.Interpreter.APIKey != "" {
		opts = append(opts, runtime.WithOpenAIInterpreter(interpret.OpenAIConfig{
			APIKey:  cfg.Interpreter.APIKey,
			Model:   cfg.Interpreter.Model,
			BaseURL: cfg.Interpreter.BaseURL,
		}))
	}

	proc, err := runtime.New(opts...)
	if err != nil {
		log.Fatalf("Failed to create processor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := proc.Start(ctx); err != nil {
		log.Fatalf("Failed to start processor: %v", err)
	}

	srv := server.New(proc, logger, server.Config{APIKey: cfg.Server.APIKey})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv,
	}

	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	logger.Info("Protocol engine started",
		slog.String("version", cfg.Engine.Version),
		slog.String("config", configPath),
		slog.String("storage", cfg.Storage.Path),
		slog.Bool("delegate", cfg.Interpreter.APIKey != ""))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, stopping engine...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if err := proc.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Engine shutdown complete")
}
