package main

import (
	"context"

	"tryonapi/services"
	"tryonapi/tasks"
	"tryonapi/telegram"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

func runScheduler(redis asynq.RedisClientOpt) {

	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		LogLevel: asynq.InfoLevel,
	})

	entries := []struct {
		cron string
		task *asynq.Task
		desc string
	}{
		{
			cron: "0 * * * *",
			task: tasks.NewFailureDigestTask(),
			desc: "Hourly try-on failure digest",
		},
	}

	for _, t := range entries {
		entryID, err := scheduler.Register(t.cron, t.task, asynq.Queue(tasks.QueueAlerts))
		if err != nil {
			log.Fatal().Err(err).Str("task", t.desc).Msg("failed to register scheduled task")
		}
		log.Info().Str("task", t.desc).Str("entry_id", entryID).Str("cron", t.cron).Msg("registered scheduled task")
	}

	log.Info().Msg("starting scheduler")
	if err := scheduler.Run(); err != nil {
		log.Fatal().Err(err).Msg("scheduler failed")
	}
}

func main() {
	services.LoadEnvFile(".env")
	cfg := services.LoadConfig()
	services.SetupLogger(cfg.Env, cfg.LogLevel)

	if cfg.BrokerAddress == "" {
		log.Fatal().Msg("ASYNC_BROKER_ADDRESS is not set")
	}
	redis := asynq.RedisClientOpt{Addr: cfg.BrokerAddress}

	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			tasks.QueueAnalytics: 7,
			tasks.QueueAlerts:    3,
		},
	})

	var sender tasks.EventSender
	if cfg.AnalyticsEndpoint != "" {
		sender = services.NewBeaconSender(cfg.AnalyticsEndpoint, cfg.AnalyticsDomain)
	} else {
		log.Warn().Msg("ANALYTICS_ENDPOINT is not set, events are only counted")
	}

	var notifier tasks.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Error().Err(err).Msg("telegram alerts disabled")
		} else {
			notifier = tg
		}
	}

	digest := tasks.NewFailureDigest()
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeAnalyticsEvent, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleAnalyticsEventTask(ctx, t, sender, digest)
	})
	mux.HandleFunc(tasks.TypeFailureDigest, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleFailureDigestTask(ctx, t, digest, notifier)
	})

	go runScheduler(redis)
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
