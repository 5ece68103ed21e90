package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"git.sr.ht/~aondrejcak/panel-credits/endpoints"
	"git.sr.ht/~aondrejcak/panel-credits/kernel"
)

func main() {
	art := kernel.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	art.Context = ctx

	art.SetupLogging()

	if art.DeploymentEnvironment == "production" {
		log.Info().Msg(" === RUNNING IN PRODUCTION MODE ===")
		gin.SetMode(gin.ReleaseMode)
	}

	cleanupFunc, err := art.SetupOtel()
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up telemetry")
	}
	defer cleanupFunc()

	span, spanCtx := art.Diagnostic.BeginTracing(ctx, "main")

	if err := art.SetupJWT(); err != nil {
		span.RecordError(err)
		log.Fatal().Err(err).Msg("could not set up admin auth")
	}
	if err := art.SeedAdmin(); err != nil {
		span.RecordError(err)
		log.Fatal().Err(err).Msg("could not seed admin")
	}
	if err := art.PrepareServices(); err != nil {
		span.RecordError(err)
		log.Fatal().Err(err).Msg("could not prepare services")
	}
	if err := art.SeedDevelopment(spanCtx); err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Msg("could not seed development data")
	}

	r, err := endpoints.NewRouter(art)
	if err != nil {
		span.RecordError(err)
		log.Fatal().Err(err).Msg("could not build router")
	}
	span.End()

	if err := art.Reconciler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("could not start reconciler")
	}

	srv := &http.Server{
		Addr:              art.Host,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("host", art.Host).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	// waits for in-flight fulfillments
	art.Shutdown()
}
