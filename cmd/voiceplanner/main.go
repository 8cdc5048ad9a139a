package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-planner/internal/api"
	"voice-planner/internal/bot"
	"voice-planner/internal/config"
	"voice-planner/internal/model"
	"voice-planner/internal/push"
	"voice-planner/internal/repository"
	"voice-planner/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	setupLogger(cfg)

	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	taskRepo := repository.NewTaskRepository(db)
	userRepo := repository.NewUserRepository(db).WithDefaultTimezone(cfg.DefaultTimezone)
	historyRepo := repository.NewNotificationRepository(db)

	var (
		sender  push.Sender = push.LogSender{Log: log.With().Str("component", "push").Logger()}
		botAPI  *tgbotapi.BotAPI
		windows = map[model.NotificationKind]time.Duration{
			model.NotificationReminder:     cfg.ReminderCooldown,
			model.NotificationDailySummary: cfg.SummaryCooldown,
		}
	)
	if cfg.TelegramToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram")
		}
		sender = push.NewTelegramSender(botAPI)
	} else {
		log.Warn().Msg("TELEGRAM_TOKEN is empty, notifications are only logged")
	}

	guard := service.NewFrequencyGuard(
		service.NewMemoryCooldownStore(0, max(cfg.ReminderCooldown, cfg.SummaryCooldown)),
		windows,
	)
	times := service.NewTimeNormalizer(time.Now)
	dispatcher := service.NewNotificationDispatcher(sender, userRepo, historyRepo, guard, time.Now)
	validator := service.NewReminderValidator(times, service.NewRecurrencePlanner(service.MaxRecurringReminders))
	engine := service.NewReminderEngine(
		service.NewDueReminderScanner(taskRepo, userRepo, times),
		service.NewReminderLifecycleManager(taskRepo, dispatcher, times, cfg.StalenessThreshold),
		times,
		cfg.DispatchWorkers,
	)
	taskSvc := service.NewTaskService(taskRepo, userRepo, validator, dispatcher, times)
	accountSvc := service.NewAccountService(userRepo, userRepo, historyRepo, dispatcher)
	summarySvc := service.NewSummaryService(taskRepo, userRepo, dispatcher, times)
	jobs := service.NewJobs(engine, summarySvc, taskRepo, times, service.JobConfig{
		ScanInterval:   cfg.ScanInterval,
		HealthInterval: cfg.HealthInterval,
		SummaryTime:    cfg.DailySummaryTime,
		CleanupTime:    cfg.CleanupTime,
		CleanupAfter:   cfg.CleanupAfter,
	})

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	scheduler := service.NewSchedulerService(loc)
	if err := jobs.Register(ctx, scheduler); err != nil {
		log.Error().Err(err).Msg("scheduler disabled")
	} else {
		scheduler.Start()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(taskSvc, accountSvc, scheduler, engine),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	if botAPI != nil {
		telegramBot := bot.New(botAPI, taskSvc, accountSvc, summarySvc)
		go func() {
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("bot stopped")
			}
		}()
	}

	log.Info().Msg("voice planner started")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	scheduler.Stop()
	dispatcher.Wait()
	log.Info().Msg("shutdown complete")
}

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
