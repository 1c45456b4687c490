package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/campus-sis/campus-sis/internal/authapi"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/observability"
	"github.com/campus-sis/campus-sis/internal/shared"
	"github.com/campus-sis/campus-sis/internal/view"
)

// Handler wires HTTP endpoints for the sign-in flow.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	metrics        *observability.Metrics
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		metrics:        metrics,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	// A signed-in account has nothing to do here.
	if authz.StateFromContext(r.Context()).Authenticated() {
		http.Redirect(w, r, authz.LandingRoute, http.StatusSeeOther)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	h.renderLogin(w, r, sess, csrfToken, loginPageData{}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)

	form := loginForm{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	formErrors := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fieldErr := range fieldErrors {
				switch fieldErr.Field() {
				case "Username":
					formErrors["Username"] = "Username is required."
				case "Password":
					formErrors["Password"] = "Password is required."
				}
			}
		} else {
			formErrors["general"] = shared.GenericLoginFailure
		}
	}

	if len(formErrors) == 0 {
		profile, err := h.service.SignIn(r.Context(), sess, form.Username, form.Password)
		if err != nil {
			formErrors["general"] = loginFailureMessage(err)
			h.logger.Info("sign-in rejected", slog.String("username", form.Username))
		} else {
			if sess == nil {
				h.logger.Error("session missing during login")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + profile.DisplayName})

			expiresAt := time.Now().Add(h.sessionManager.TTL())
			if err := h.service.RegisterSession(r.Context(), sess.ID, *profile, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
				h.logger.Warn("register session", slog.Any("error", err))
			}
			h.metrics.RecordSignin(string(profile.Role))

			target := authz.SafeReturnPath(sess.ConsumeReturnPath())
			if target == "" {
				target = authz.LandingRoute
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	h.renderLogin(w, r, sess, csrfToken, loginPageData{Form: form, Errors: formErrors}, http.StatusBadRequest)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, authz.LoginRoute, http.StatusSeeOther)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, sess *shared.Session, csrfToken string, data loginPageData, status int) {
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Sign in",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// loginFailureMessage keeps the auth service's own wording when it sent any,
// falling back to the one generic line for everything else. Server-side
// failures never leak their message; a 5xx body is not written for users.
func loginFailureMessage(err error) string {
	var apiErr *authapi.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" && apiErr.Status < http.StatusInternalServerError {
		return apiErr.Message
	}
	return shared.GenericLoginFailure
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// HandleLogoutForTest exposes the POST logout handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogout(w, r)
}
