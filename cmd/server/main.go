package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tconn93/TRFBWebhook/internal/api"
	"github.com/tconn93/TRFBWebhook/internal/api/handlers"
	"github.com/tconn93/TRFBWebhook/internal/api/middleware"
	"github.com/tconn93/TRFBWebhook/internal/engine/facebook"
	"github.com/tconn93/TRFBWebhook/internal/engine/targets"
	"github.com/tconn93/TRFBWebhook/internal/engine/webhooks"
	"github.com/tconn93/TRFBWebhook/internal/pkg/logger"
	"github.com/tconn93/TRFBWebhook/internal/pkg/metrics"
	"github.com/tconn93/TRFBWebhook/internal/pkg/validator"
	"github.com/tconn93/TRFBWebhook/internal/platform/audit"
	"github.com/tconn93/TRFBWebhook/internal/platform/auth"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/database"
	"github.com/tconn93/TRFBWebhook/internal/platform/repositories"
	"github.com/tconn93/TRFBWebhook/internal/workers"
	"github.com/tconn93/TRFBWebhook/migrations"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Facebook.AppSecret == "" {
		log.Warn().Msg("facebook.app_secret is empty: webhook signatures are NOT verified (facebook.allow_unsigned)")
	}
	if cfg.Facebook.VerifyToken == "" {
		log.Warn().Msg("facebook.verify_token is empty: webhook subscription handshakes will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Strs("applied", applied).Msg("database schema up to date")
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	targetStore := targets.NewCachedStore(repositories.NewTargetRepository(db, cfg.Forwarder.DefaultTimeout), cfg.Forwarder.TargetCacheTTL)
	auditLogger := audit.NewLogger(db)

	// Services
	m := metrics.New(prometheus.NewRegistry())
	tokenSvc := auth.NewTokenService(cfg.JWT)
	fbClient := facebook.NewClient(cfg.Facebook)
	v := validator.New()
	forwarder := webhooks.NewForwarder(cfg.Forwarder, m, logger.Component("forwarder"))
	intake := webhooks.NewIntake(targetStore, forwarder, cfg.Facebook.Objects, m, logger.Component("intake"))

	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Run(ctx)

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if cfg.Workers.Embedded {
			workers.Run(ctx, logger.Component("workers"), workers.Tasks(cfg.Workers, auditLogger, userRepo)...)
		}
	}()

	deps := &api.Dependencies{
		WebhookHandler:      handlers.NewWebhookHandler(cfg.Facebook, cfg.Server.MaxBodyBytes, intake, m, logger.Component("webhook")),
		AuthHandler:         handlers.NewAuthHandler(userRepo, tokenSvc, v, auditLogger),
		TargetHandler:       handlers.NewTargetHandler(targetStore, forwarder, v, auditLogger, cfg.Forwarder.MaxTimeout),
		FacebookHandler:     handlers.NewFacebookHandler(fbClient, userRepo, tokenSvc, auditLogger, cfg.Domains.FrontendURL, logger.Component("facebook")),
		DataDeletionHandler: handlers.NewDataDeletionHandler(userRepo, auditLogger, targetStore, cfg.Facebook.AppSecret, cfg.Domains, logger.Component("data_deletion")),
		HealthHandler:       handlers.NewHealthHandler(db),
		MetricsHandler:      handlers.NewMetricsHandler(m),
		AuthMiddleware:      middleware.NewAuthMiddleware(tokenSvc),
		RateLimiter:         rateLimiter,
		RateLimits:          cfg.RateLimit,
		CORS:                cfg.CORS,
		Logger:              log.Logger,
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown did not complete")
	}
	// Deliveries already acknowledged get the rest of the shutdown budget.
	if err := intake.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("abandoned in-flight deliveries")
	}

	stop()
	<-workersDone

	log.Info().Msg("server stopped")
}
