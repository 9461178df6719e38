package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tconn93/TRFBWebhook/internal/pkg/logger"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/database"
	"github.com/tconn93/TRFBWebhook/migrations"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	timeout := flag.Duration("timeout", time.Minute, "Maximum time to spend applying migrations")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	if len(applied) == 0 {
		fmt.Println("Database already up to date")
		return
	}
	for _, version := range applied {
		fmt.Printf("Applied %s\n", version)
	}
	fmt.Println("Migration completed successfully")
}
