package main

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"timelapse-server/internal/config"
	"timelapse-server/internal/handlers/api"
)

//go:embed all:frontend/dist
var assets embed.FS

func newLogger() (*zap.Logger, error) {
	if os.Getenv("DEV_MODE") == "1" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	logger, err := newLogger()
	if err != nil {
		os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	settings, err := config.LoadSettings()
	if err != nil {
		logger.Fatal("failed to load settings", zap.Error(err))
	}
	if err := settings.Validate(); err != nil {
		logger.Fatal("invalid settings", zap.Error(err))
	}

	app, err := NewApp(settings, logger)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer app.Close()

	if err := app.Initialize(); err != nil {
		logger.Fatal("failed to initialize Earth Engine client", zap.Error(err))
	}

	staticFS, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		logger.Fatal("failed to mount frontend assets", zap.Error(err))
	}

	server := api.NewServer(app, app, app.Queue(), app.RateLimits(), staticFS, logger)

	go func() {
		if err := server.Start(settings.ListenAddr); err != nil {
			logger.Info("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
