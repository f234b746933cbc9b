package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/leadwatch/core/internal/config"
	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/server"
)

func main() {
	logger.SetupLogger()
	log := logger.New("api-service")

	cfg := config.Load()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "server_creation_failed").
			Msg("Failed to create server")
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Error().
			Err(err).
			Str("action", "server_failed").
			Msg("Server failed")
	}
}
