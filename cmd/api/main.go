package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tryonapi/controllers"
	"tryonapi/services"
	"tryonapi/tasks"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func newTracker(cfg *services.Config) (services.Tracker, func()) {
	if cfg.BrokerAddress != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.BrokerAddress})
		log.Info().Str("broker", cfg.BrokerAddress).Msg("analytics events go through the queue")
		return &tasks.QueueTracker{Client: client}, func() { client.Close() }
	}
	if cfg.AnalyticsEndpoint != "" {
		log.Info().Str("endpoint", cfg.AnalyticsEndpoint).Msg("analytics events are sent directly")
		return &services.BeaconTracker{Sender: services.NewBeaconSender(cfg.AnalyticsEndpoint, cfg.AnalyticsDomain)}, func() {}
	}
	return services.NoopTracker{}, func() {}
}

func main() {
	services.LoadEnvFile(".env")
	cfg := services.LoadConfig()
	services.SetupLogger(cfg.Env, cfg.LogLevel)

	err := sentry.Init(sentry.ClientOptions{
		// Empty DSN disables reporting.
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Env,
		Release:          "tryonapi@1.0.0",
		Debug:            false,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("sentry.Init failed")
	}
	defer sentry.Recover()
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	generator, err := services.NewGenerator(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up upstream generator")
	}
	if cfg.UpstreamAPIKey == "" {
		log.Warn().Msg("UPSTREAM_API_KEY is not set, upstream calls will be rejected")
	}

	tracker, closeTracker := newTracker(cfg)
	defer closeTracker()

	e := controllers.SetupServer(
		services.NewFanoutCoordinator(generator, cfg.MaxImageCount),
		controllers.ServerOptions{MaxBodySize: cfg.MaxBodySize, Tracker: tracker},
	)
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	e.Use(middleware.Recover())
	e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))

	go func() {
		log.Info().
			Str("addr", cfg.ServerAddr).
			Str("backend", cfg.UpstreamBackend).
			Dur("upstream_timeout", cfg.UpstreamTimeout).
			Msg("try-on api listening")
		if err := e.Start(cfg.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), services.MaxUpstreamTimeout+5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
