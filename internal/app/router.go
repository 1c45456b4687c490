package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/campus-sis/campus-sis/internal/auth"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/dashboard"
	"github.com/campus-sis/campus-sis/internal/observability"
	"github.com/campus-sis/campus-sis/internal/sections"
	"github.com/campus-sis/campus-sis/internal/shared"
	"github.com/campus-sis/campus-sis/internal/view"
	"github.com/campus-sis/campus-sis/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Templates        *view.Engine
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	AuthService      *auth.Service
	AuthHandler      *auth.Handler
	DashboardHandler *dashboard.Handler
	SectionsHandler  *sections.Handler
	Pool             *pgxpool.Pool
	Redis            *redis.Client
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		AuthService:    params.AuthService,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		pg, rd := "ok", "ok"
		if params.Pool != nil {
			if err := params.Pool.Ping(ctx); err != nil {
				pg = "down"
			}
		}
		if params.Redis != nil {
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				rd = "down"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		status := http.StatusOK
		overall := "ok"
		if pg != "ok" || rd != "ok" {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"` + overall + `","postgres":"` + pg + `","redis":"` + rd + `"}`))
	})

	// Sign-in attempts get a much tighter budget than page traffic.
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Route("/auth", params.AuthHandler.MountRoutes)
	})

	params.DashboardHandler.MountRoutes(r)
	params.SectionsHandler.MountRoutes(r)

	r.Get(authz.DeniedRoute, func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		csrfToken, _ := params.CSRFManager.EnsureToken(r.Context(), sess)
		var flash *shared.FlashMessage
		if sess != nil {
			flash = sess.PopFlash()
		}
		data := view.TemplateData{
			Title:       "Access denied",
			CSRFToken:   csrfToken,
			Flash:       flash,
			CurrentPath: r.URL.Path,
			User:        authz.UserFromContext(r.Context()),
		}
		w.WriteHeader(http.StatusForbidden)
		if err := params.Templates.Render(w, "pages/unauthorized.html", data); err != nil {
			params.Logger.Error("render unauthorized", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// PendingHandler renders the hold page shown while a session is still being
// confirmed against the directory. The page refreshes itself so the account
// lands on its destination without re-entering credentials.
func PendingHandler(logger *slog.Logger, templates *view.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
		data := view.TemplateData{Title: "Confirming your session", CurrentPath: r.URL.Path}
		if err := templates.Render(w, "pages/authenticating.html", data); err != nil {
			logger.Error("render authenticating", slog.Any("error", err))
		}
	})
}

// staticCacheHandler lets browsers hold the portal's assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
