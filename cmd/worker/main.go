package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/lotsales/lotsales/internal/app"
	jobmetrics "github.com/lotsales/lotsales/internal/jobs"
	"github.com/lotsales/lotsales/internal/notify"
	"github.com/lotsales/lotsales/internal/platform/cache"
	"github.com/lotsales/lotsales/internal/platform/db"
	"github.com/lotsales/lotsales/internal/sales"
	"github.com/lotsales/lotsales/internal/shared"
	"github.com/lotsales/lotsales/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	locale, err := cfg.NotifyLanguage()
	if err != nil {
		logger.Error("notify locale", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := cfg.AsynqRedis()
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	idempotency := shared.NewIdempotencyStore(pool)
	repo := sales.NewRepository(pool)
	service := sales.NewService(repo, sales.ServiceConfig{
		Locker:      shared.NewRedisLocker(redisClient, cfg.LockWait),
		Idempotency: idempotency,
		Cache:       sales.NewReportCache(redisClient, cfg.ReportCacheTTL),
		Audit:       shared.NewAuditLogger(pool),
		Logger:      logger,
		LockTTL:     cfg.LockTTL,
	})

	metrics := jobmetrics.NewMetrics(nil)
	scanner := notify.NewScanner(repo, service, client, notify.Config{
		Cooldown:    cfg.NotifyCooldown,
		Concurrency: cfg.NotifyConcurrency,
		Locale:      locale,
		Logger:      logger,
		Metrics:     metrics,
	})
	scanJob := notify.NewJob(scanner, logger, metrics)

	scanTask, err := jobs.NewOverdueScanTask("")
	if err != nil {
		logger.Error("build overdue scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Mailer:      jobs.LogMailer{Logger: logger},
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverdueScan, Handler: scanJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotency, cfg.IdempotencyRetention, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.NotifyCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCron, Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
