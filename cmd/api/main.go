package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/storyreel/internal/api"
	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/rs/zerolog"
)

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	log := newLogger(cfg)
	log.Info().Msg("starting storyreel api")

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	if err := database.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	log.Info().Msg("connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()
	log.Info().Msg("connected to redis queue")

	objects, err := newObjectStore(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	log.Info().Str("backend", string(cfg.StorageKind)).Msg("initialized storage")

	handler := api.NewHandler(database, q, objects, log)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSOrigins(),
		Logger:         log,
	})

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		w, err := newWorker(cfg, database, q, objects, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize worker")
		}
		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("api server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
