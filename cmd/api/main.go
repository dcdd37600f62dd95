package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/bighogz/vibes-core/internal/cache"
	"github.com/bighogz/vibes-core/internal/config"
	"github.com/bighogz/vibes-core/internal/engine"
	"github.com/bighogz/vibes-core/internal/fmp"
	"github.com/bighogz/vibes-core/internal/logging"
	"github.com/bighogz/vibes-core/internal/telemetry"
	"github.com/bighogz/vibes-core/internal/yahoo"
)

func main() {
	config.Load()
	logging.Setup(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(config.TraceStdout)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	eng := engine.New(ctx, config.CoreWasmPath)

	store, err := cache.Open(config.CachePath())
	if err != nil {
		log.Warn().Err(err).Msg("scan cache disabled")
	}

	s := &server{
		eng:    eng,
		src:    fmp.New(config.FMPAPIKey),
		prices: yahoo.New(),
		store:  store,
		defaults: defaults{
			BaselineDays:      config.BaselineDays,
			CurrentDays:       config.CurrentWindowDays,
			StdThreshold:      config.AnomalyStdThreshold,
			MinBaselinePoints: config.MinBaselinePoints,
		},
		freeTier:    config.FMPFreeTier,
		adminKey:    config.AdminAPIKey,
		scanLimiter: newIPLimiter(5*time.Second, 1), // 1 scan per 5s per IP
		trustProxy:  config.TrustProxy,
	}
	if config.FMPAPIKey == "" {
		log.Warn().Msg("FMP_API_KEY not set; scans will return no insider records")
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Admin-Key", "X-Request-ID"},
	})

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      c.Handler(s.routes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("engine", eng.Name()).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if store != nil {
		store.Close()
	}
	if err := eng.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("engine close")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}
