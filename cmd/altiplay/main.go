package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dbs *databases
	if cfg.Storage.Driver != "memory" {
		dbs, err = connectDatabases(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer dbs.close()
	}

	services, err := buildServices(ctx, cfg, dbs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build services")
	}
	defer services.close()

	done := make(chan struct{})
	go services.Bus.Run(ctx)
	go services.Manager.Start(done)
	if services.Journal != nil {
		go services.Journal.Run(ctx)
	}

	if cfg.Node.Coordinator {
		go func() {
			if err := services.Engine.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("round engine stopped")
			}
		}()
	}

	server := setupServer(cfg, services)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("node", cfg.Node.ID).
			Bool("coordinator", cfg.Node.Coordinator).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()
	close(done)

	log.Info().Msg("shutdown complete")
}
