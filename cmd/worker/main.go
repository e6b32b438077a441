package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-c2/vantage/internal/app"
	"github.com/vantage-c2/vantage/internal/audit"
	"github.com/vantage-c2/vantage/internal/directory"
	jobmetrics "github.com/vantage-c2/vantage/internal/jobs"
	"github.com/vantage-c2/vantage/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)

	directoryRepo := directory.NewRepository(pool)
	sweepJob := jobs.NewSessionSweepJob(directoryRepo, logger, metrics)

	auditRecorder := audit.NewRecorder(pool)
	pruneJob := jobs.NewAuditPruneJob(auditRecorder, logger, metrics)

	sweepTask, err := jobs.NewSessionSweepTask(cfg.SessionGraceMultiplier)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	pruneTask, err := jobs.NewAuditPruneTask(cfg.AuditRetention.Hours())
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskAuditPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.SessionSweepEvery.String(), Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "45 3 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
