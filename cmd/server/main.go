package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/adapters/docstore"
	router "github.com/dkeye/Telecall/internal/adapters/http"
	wssignal "github.com/dkeye/Telecall/internal/adapters/signal"
	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	persister, err := docstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to open database")
	}
	store, err := docstore.Open(persister)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load documents")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("store close")
		}
	}()

	reg := app.NewRegistry()
	limiter := wssignal.NewWriteRateLimiter(cfg.WriteLimit, cfg.WriteInterval)
	ctl := wssignal.NewStoreWSController(store, reg, app.SimplePolicy{}, limiter, wssignal.Options{
		SendBuffer: cfg.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{Store: store, Controller: ctl})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Telecall relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Int("clients", reg.Count()).Msg("Server exited gracefully")
}
