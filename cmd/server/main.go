package main

import (
	"log/slog"
	"os"

	"github.com/nfrund/bizdash/internal/app"
	"github.com/nfrund/bizdash/internal/config"
	"github.com/nfrund/bizdash/internal/logging"
	"github.com/nfrund/bizdash/internal/server"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	injector := app.New(cfg, app.Options{Logger: logger})

	s, err := server.New(cfg, injector, app.NewModules(cfg), server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	if err := s.Start(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
