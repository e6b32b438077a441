package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vantage-c2/vantage/internal/action"
	"github.com/vantage-c2/vantage/internal/app"
	"github.com/vantage-c2/vantage/internal/audit"
	"github.com/vantage-c2/vantage/internal/directory"
	"github.com/vantage-c2/vantage/internal/identity"
	"github.com/vantage-c2/vantage/internal/observability"
	"github.com/vantage-c2/vantage/internal/platform/cache"
	"github.com/vantage-c2/vantage/internal/platform/db"
	"github.com/vantage-c2/vantage/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditRecorder := audit.NewRecorder(dbpool)

	identityRepo := identity.NewRepository(dbpool)
	throttle := identity.NewLoginThrottle(redisClient, cfg.LoginMaxFailures, cfg.LoginWindow)
	resolver := identity.NewResolver(identityRepo, throttle)
	identityService := identity.NewService(identityRepo, resolver, auditRecorder, logger)

	created, err := identityService.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		logger.Error("bootstrap admin", slog.Any("error", err))
		os.Exit(1)
	}
	if created {
		logger.Info("bootstrap admin created", slog.String("username", cfg.AdminUsername))
	}

	directoryRepo := directory.NewRepository(dbpool)
	actionRepo := action.NewRepository(dbpool)
	actionService := action.NewService(actionRepo, directoryRepo, auditRecorder, logger)

	metrics := observability.NewMetrics()
	identityHandler := identity.NewHandler(logger, identityService, app.RequireCapability)
	actionHandler := action.NewHandler(logger, actionService, app.RequireCapability)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterConfig{
		Logger:          logger,
		Config:          cfg,
		Resolver:        resolver,
		Metrics:         metrics,
		IdentityHandler: identityHandler,
		ActionHandler:   actionHandler,
		JobsHandler:     jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting teamserver", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
