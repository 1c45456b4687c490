package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campus-sis/campus-sis/cmd/campus/cli"
	"github.com/campus-sis/campus-sis/internal/app"
	"github.com/campus-sis/campus-sis/internal/auth"
	"github.com/campus-sis/campus-sis/internal/authapi"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/dashboard"
	"github.com/campus-sis/campus-sis/internal/directory"
	"github.com/campus-sis/campus-sis/internal/observability"
	"github.com/campus-sis/campus-sis/internal/platform/cache"
	"github.com/campus-sis/campus-sis/internal/platform/db"
	"github.com/campus-sis/campus-sis/internal/sections"
	"github.com/campus-sis/campus-sis/internal/shared"
	"github.com/campus-sis/campus-sis/internal/view"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(os.Args[2:]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "campus_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	api := authapi.NewHTTPClient(cfg.AuthAPIURL, cfg.AuthAPIKey, cfg.AuthAPITimeout)
	tokens := authapi.NewGrantTokens(cfg.AuthJWTSecret, cfg.SessionTTL)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(api, tokens, authRepo, cfg.ProfileRefreshInterval, logger)

	metrics := observability.NewMetrics()
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, metrics)

	gate := authz.Middleware{Logger: logger, Pending: app.PendingHandler(logger, templates)}

	directoryCache := directory.NewCache(redisClient, cfg.StatsCacheTTL)
	if err := directoryCache.ListenForInvalidation(ctx, ""); err != nil {
		logger.Warn("directory cache subscription", slog.Any("error", err))
	}
	directoryService := directory.NewService(api, directoryCache)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	dashboardService := dashboard.NewService(directoryService, authRepo, logger)
	dashboardHandler := dashboard.NewHandler(logger, dashboardService, templates, csrfManager, gate, inspector, cfg.AdminPanelURL)
	sectionsHandler := sections.NewHandler(logger, directoryService, templates, csrfManager, gate)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Templates:        templates,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthService:      authService,
		AuthHandler:      authHandler,
		DashboardHandler: dashboardHandler,
		SectionsHandler:  sectionsHandler,
		Pool:             dbpool,
		Redis:            redisClient,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
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

const jobsUsage = "usage: campus jobs <run|stats|scheduled> [args]"

// runJobs handles the operator subcommands without booting the server.
// Only the Redis address is needed, so the full config is not required.
func runJobs(args []string) int {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	jc, err := cli.NewJobsCLI(redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() {
		_ = jc.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, jobsUsage)
		return 1
	}
	switch args[0] {
	case "run":
		var task string
		if len(args) > 1 {
			task = args[1]
		}
		return jc.RunCommand(ctx, cli.RunOptions{Task: task, Stdout: os.Stdout, Stderr: os.Stderr})
	case "stats":
		jsonOut := len(args) > 1 && args[1] == "--json"
		return jc.StatsCommand(ctx, cli.StatsOptions{JSONOutput: jsonOut, Stdout: os.Stdout, Stderr: os.Stderr})
	case "scheduled":
		var size int
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				size = n
			}
		}
		return jc.ScheduledCommand(ctx, cli.ScheduledOptions{Size: size, Stdout: os.Stdout, Stderr: os.Stderr})
	default:
		fmt.Fprintln(os.Stderr, jobsUsage)
		return 1
	}
}
