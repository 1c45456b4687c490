package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campus-sis/campus-sis/internal/app"
	"github.com/campus-sis/campus-sis/internal/auth"
	jobmetrics "github.com/campus-sis/campus-sis/internal/jobs"
	"github.com/campus-sis/campus-sis/internal/platform/db"
	"github.com/campus-sis/campus-sis/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	authRepo := auth.NewRepository(pool)

	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)

	purgeJob := jobs.NewSessionsPurgeJob(authRepo, logger, metrics)
	rollupJob := jobs.NewSigninRollupJob(authRepo, logger, metrics)

	purgeTask, err := jobs.NewSessionsPurgeTask(60)
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}
	rollupTask, err := jobs.NewSigninRollupTask("", 90)
	if err != nil {
		logger.Error("build rollup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionsPurge, Handler: purgeJob.Handle},
			{Type: jobs.TaskSigninRollup, Handler: rollupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: rollupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	// The job counters back the JobFailures alert, so the worker serves
	// its own scrape endpoint.
	metricsRouter := chi.NewRouter()
	metricsRouter.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsRouter}
	defer func() {
		_ = metricsServer.Close()
	}()
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
