package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memematch/internal/app"
	"memematch/internal/cards"
	"memematch/internal/config"
	"memematch/internal/domain"
	"memematch/internal/store"
	httpTransport "memematch/internal/transport/http"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Set up logger
	var logger *slog.Logger
	logOpts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, logOpts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, logOpts))
	}

	slog.SetDefault(logger)

	logger.Info("starting memematch server",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
	)

	catalog, err := loadCatalog(cfg.Game.MemesDir)
	if err != nil {
		logger.Error("failed to load meme catalog", "dir", cfg.Game.MemesDir, "error", err)
		os.Exit(1)
	}
	logger.Info("meme catalog loaded", "cards", len(catalog))

	// The realtime store every lobby lives in
	mem := store.NewMemory()
	defer mem.Close()

	hub := app.NewHub(app.HubConfig{
		Store:          mem,
		Catalog:        catalog,
		Settings:       cfg.Game.LobbySettings(),
		Timings:        cfg.Game.Timings(),
		Logger:         logger,
		RoomCodeLength: cfg.Game.RoomCodeLength,
	})
	defer hub.Close()

	// Create HTTP server
	server := httpTransport.NewServer(cfg, hub, mem, logger)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

func loadCatalog(dir string) ([]domain.MemeCard, error) {
	if dir == "" {
		return cards.DefaultCatalog(), nil
	}
	return cards.LoadCatalog(os.DirFS(dir))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
