package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartfolio-backend/internal/config"
	"smartfolio-backend/internal/infrastructure/scheduler"
	"smartfolio-backend/internal/interfaces/router"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}
	setupLogger(cfg)

	app, services, err := router.CreateApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app create")
	}

	ctx := context.Background()
	sqlDB, err := services.DB.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("Postgres: get DB")
	}
	if err := sqlDB.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Postgres connection failed")
	}
	log.Info().Msg("Postgres connected")
	if services.Rdb != nil {
		if err := services.Rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		log.Info().Msg("Redis connected")
	} else {
		log.Warn().Msg("REDIS_URL not set: sessions, quote cache and request stats disabled")
	}

	sch, err := scheduler.New()
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler create")
	}
	if err := router.ScheduleMaintenance(sch, cfg, services); err != nil {
		log.Fatal().Err(err).Msg("scheduler jobs")
	}
	sch.Start()
	log.Info().Int("jobs", sch.Jobs()).Msg("scheduler started")

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutting down")
		if err := sch.Stop(); err != nil {
			log.Error().Err(err).Msg("scheduler shutdown")
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("port", cfg.Port).Msgf("Server running at http://localhost:%s (health: /health/json)", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}
