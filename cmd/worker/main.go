package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tconn93/TRFBWebhook/internal/pkg/logger"
	"github.com/tconn93/TRFBWebhook/internal/platform/audit"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/database"
	"github.com/tconn93/TRFBWebhook/internal/platform/repositories"
	"github.com/tconn93/TRFBWebhook/internal/workers"
)

// The worker runs the maintenance tasks standalone, for deployments that set
// workers.embedded to false on the server.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to connect to database")
	}
	defer db.Close()

	tasks := workers.Tasks(cfg.Workers, audit.NewLogger(db), repositories.NewUserRepository(db))
	if len(tasks) == 0 {
		log.Warn().Msg("no worker tasks enabled")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Int("tasks", len(tasks)).Msg("starting TRFBWebhook background workers")
	workers.Run(ctx, logger.Component("workers"), tasks...)
	log.Info().Msg("workers stopped")
}
