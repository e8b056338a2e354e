package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelr/devicesync/internal/config"
	"github.com/sentinelr/devicesync/internal/database"
	"github.com/sentinelr/devicesync/internal/events"
	"github.com/sentinelr/devicesync/internal/handler"
	"github.com/sentinelr/devicesync/internal/jobs"
	"github.com/sentinelr/devicesync/internal/middleware"
	"github.com/sentinelr/devicesync/internal/redis"
	"github.com/sentinelr/devicesync/internal/repository"
	"github.com/sentinelr/devicesync/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("SENTINELR_ENV") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	deviceRepo := repository.NewDeviceRepository(db.DB)
	pairingCodeRepo := repository.NewPairingCodeRepository(db.DB)
	locationRepo := repository.NewLocationRepository(db.DB)

	broker := events.NewBroker(redisClient)
	defer broker.Close()

	tokens := service.NewTokenService(cfg.TokenSecret)
	pairingService := service.NewPairingService(db, pairingCodeRepo, deviceRepo, tokens, broker, cfg.PairingCodeTTL())
	deviceService := service.NewDeviceService(deviceRepo, broker)
	telemetryService := service.NewTelemetryService(deviceRepo, locationRepo, tokens, broker)

	operatorAuth := middleware.NewOperatorAuthMiddleware(tokens)
	deviceAuth := middleware.NewDeviceAuthMiddleware(telemetryService)
	redeemLimit := middleware.NewRateLimitMiddleware(
		service.NewRateLimiter(redisClient.Client),
		config.RedeemRateLimit, config.RedeemRateWindow, "ratelimit:redeem", middleware.ByIP,
	)
	uploadLimit := middleware.NewRateLimitMiddleware(
		service.NewLenientRateLimiter(redisClient.Client),
		config.UploadRateLimit, config.UploadRateWindow, "ratelimit:upload", middleware.ByDevice,
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	pairingHandler := handler.NewPairingHandler(pairingService)
	devicesHandler := handler.NewDevicesHandler(deviceService)
	telemetryHandler := handler.NewTelemetryHandler(telemetryService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The change feed is long-lived and must not inherit the request timeout.
		r.With(operatorAuth.Handler).Get("/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

			r.With(redeemLimit.Handler).Post("/pairing/redeem", pairingHandler.Redeem)

			r.Group(func(r chi.Router) {
				r.Use(deviceAuth.Handler)
				r.Use(uploadLimit.Handler)
				r.Post("/devices/ping", telemetryHandler.Ping)
				r.Post("/devices/heartbeat", telemetryHandler.Heartbeat)
			})

			r.Group(func(r chi.Router) {
				r.Use(operatorAuth.Handler)
				r.Mount("/pairing", pairingHandler.OperatorRoutes())
				r.Mount("/devices", devicesHandler.Routes())
				r.Get("/locations/live", telemetryHandler.Live)
			})
		})
	})

	cleanupJob := jobs.NewCleanupJob(
		pairingCodeRepo, locationRepo, deviceRepo, broker, config.CleanupJobInterval,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer shutdownCancel()

		// Websocket subscribers get a going-away frame before the listener closes.
		broker.Close()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
