package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/campus-sis/campus-sis/internal/auth"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/identity"
	"github.com/campus-sis/campus-sis/internal/platform/httpx"
	"github.com/campus-sis/campus-sis/internal/shared"
	"github.com/campus-sis/campus-sis/internal/view"
	"github.com/campus-sis/campus-sis/jobs"
)

const recentRollupsLimit = 14

// Handler serves the dashboard and the admin jobs page.
type Handler struct {
	logger        *slog.Logger
	service       *Service
	templates     *view.Engine
	csrf          *shared.CSRFManager
	gate          authz.Middleware
	inspector     *asynq.Inspector
	adminPanelURL string
}

// NewHandler constructs the dashboard handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, gate authz.Middleware, inspector *asynq.Inspector, adminPanelURL string) *Handler {
	return &Handler{
		logger:        logger,
		service:       service,
		templates:     templates,
		csrf:          csrf,
		gate:          gate,
		inspector:     inspector,
		adminPanelURL: adminPanelURL,
	}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.Requirement{}))
		r.Get("/", h.showDashboard)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireRoles(identity.RoleAdmin, identity.RoleFaculty))
		r.Get("/api/dashboard/stats", h.apiStats)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireRoles(identity.RoleAdmin))
		r.Get("/admin/jobs", h.showJobs)
	})
}

type dashboardPage struct {
	Cards         []StatCard
	Overview      Overview
	AdminPanelURL string
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	user := authz.UserFromContext(r.Context())

	ov, err := h.service.Overview(r.Context(), user)
	if err != nil {
		h.logger.Error("load dashboard", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}

	data := view.TemplateData{
		Title:       "Dashboard",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        user,
		Data: dashboardPage{
			Cards:         buildCards(user, ov),
			Overview:      ov,
			AdminPanelURL: h.adminPanelURL,
		},
	}
	if err := h.templates.Render(w, "pages/dashboard.html", data); err != nil {
		h.logger.Error("render dashboard", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) apiStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Warn("stats api", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

type queueSnapshot struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Processed int
	Failed    int
}

type jobsPage struct {
	Queue     queueSnapshot
	QueueOK   bool
	Rollups   []auth.RollupRow
	RollupsOK bool
}

func (h *Handler) showJobs(w http.ResponseWriter, r *http.Request) {
	page := jobsPage{}

	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(jobs.QueueDefault)
		if err != nil {
			h.logger.Warn("queue info", slog.Any("error", err))
		} else if info != nil {
			page.Queue = queueSnapshot{
				Queue:     info.Queue,
				Pending:   info.Pending,
				Active:    info.Active,
				Scheduled: info.Scheduled,
				Retry:     info.Retry,
				Processed: info.Processed,
				Failed:    info.Failed,
			}
			page.QueueOK = true
		}
	}

	rollups, err := h.service.RecentRollups(r.Context(), recentRollupsLimit)
	if err != nil {
		h.logger.Warn("recent rollups", slog.Any("error", err))
	} else {
		page.Rollups = rollups
		page.RollupsOK = true
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)

	data := view.TemplateData{
		Title:       "Background jobs",
		CSRFToken:   csrfToken,
		CurrentPath: r.URL.Path,
		User:        authz.UserFromContext(r.Context()),
		Data:        page,
	}
	if err := h.templates.Render(w, "pages/jobs.html", data); err != nil {
		h.logger.Error("render jobs", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
