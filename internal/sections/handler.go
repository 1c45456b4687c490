// Package sections serves the class section pages. Which rows a user sees
// is decided here once, so the templates never re-check membership.
package sections

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campus-sis/campus-sis/internal/authapi"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/directory"
	"github.com/campus-sis/campus-sis/internal/identity"
	"github.com/campus-sis/campus-sis/internal/shared"
	"github.com/campus-sis/campus-sis/internal/view"
)

// Handler serves section listings and details.
type Handler struct {
	logger    *slog.Logger
	directory *directory.Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	gate      authz.Middleware
}

// NewHandler constructs the sections handler.
func NewHandler(logger *slog.Logger, dir *directory.Service, templates *view.Engine, csrf *shared.CSRFManager, gate authz.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		directory: dir,
		templates: templates,
		csrf:      csrf,
		gate:      gate,
	}
}

// MountRoutes registers section routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.Requirement{}))
		r.Get("/sections", h.listSections)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireSectionParam("code"))
		r.Get("/sections/{code}", h.showSection)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireClassAdvisor())
		r.Get("/advisory", h.showAdvisory)
	})
}

type listPage struct {
	Sections []authapi.Section
	LoadOK   bool
	Advisory bool
}

func (h *Handler) listSections(w http.ResponseWriter, r *http.Request) {
	user := authz.UserFromContext(r.Context())

	page := listPage{}
	all, err := h.directory.Sections(r.Context())
	if err != nil {
		h.logger.Warn("list sections", slog.Any("error", err))
	} else {
		page.Sections = visibleSections(user, all)
		page.LoadOK = true
	}

	h.render(w, r, "Sections", "pages/sections.html", page)
}

type detailPage struct {
	Section authapi.Section
}

func (h *Handler) showSection(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	sect, err := h.directory.Section(r.Context(), code)
	if err != nil {
		var apiErr *authapi.Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("load section", slog.String("code", code), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	h.render(w, r, sect.Name, "pages/section.html", detailPage{Section: *sect})
}

func (h *Handler) showAdvisory(w http.ResponseWriter, r *http.Request) {
	user := authz.UserFromContext(r.Context())

	page := listPage{Advisory: true}
	all, err := h.directory.Sections(r.Context())
	if err != nil {
		h.logger.Warn("list advisory sections", slog.Any("error", err))
	} else {
		page.Sections = visibleSections(user, all)
		page.LoadOK = true
	}

	h.render(w, r, "Advisory", "pages/advisory.html", page)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, title, name string, page any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}

	data := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        authz.UserFromContext(r.Context()),
		Data:        page,
	}
	if err := h.templates.Render(w, name, data); err != nil {
		h.logger.Error("render sections", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// visibleSections keeps the rows the user can open. Admins see the whole
// directory, everyone else their own assignments.
func visibleSections(user *identity.Profile, all []authapi.Section) []authapi.Section {
	if user != nil && user.Role == identity.RoleAdmin {
		return all
	}
	visible := make([]authapi.Section, 0, len(all))
	for _, sect := range all {
		if user.CanAccessSection(sect.Code) {
			visible = append(visible, sect)
		}
	}
	return visible
}
