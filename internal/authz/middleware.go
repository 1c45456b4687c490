package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campus-sis/campus-sis/internal/identity"
	"github.com/campus-sis/campus-sis/internal/shared"
)

// Navigation targets used by the gates. Handlers treat them as opaque
// route identifiers.
const (
	// LoginRoute receives accounts that still need to sign in.
	LoginRoute = "/auth/login"
	// DeniedRoute receives signed-in accounts that fail a requirement.
	DeniedRoute = "/unauthorized"
	// LandingRoute is where a successful sign-in lands by default.
	LandingRoute = "/"
)

// Middleware wires the navigation-time authorization gates for HTTP
// handlers. Each gate re-evaluates on every request against the state the
// session resolver placed in context, so a login, logout or role change is
// honored immediately.
type Middleware struct {
	Logger *slog.Logger
	// Pending renders the wait page shown while the session is still
	// resolving. Nil falls back to a plain 503.
	Pending http.Handler
}

// Require gates a route on the given requirement.
func (m Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next, req)
		})
	}
}

// RequireRoles gates a route on role membership alone.
func (m Middleware) RequireRoles(roles ...identity.Role) func(http.Handler) http.Handler {
	return m.Require(Requirement{Roles: roles})
}

// RequireClassAdvisor gates a route on the class-advisor capability.
func (m Middleware) RequireClassAdvisor() func(http.Handler) http.Handler {
	return m.Require(Requirement{ClassAdvisor: true})
}

// RequireSectionParam gates a route on access to the section named by the
// chi URL parameter. Roles, when given, are checked first.
func (m Middleware) RequireSectionParam(param string, roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := Requirement{Roles: roles, Section: chi.URLParam(r, param)}
			m.serve(w, r, next, req)
		})
	}
}

func (m Middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler, req Requirement) {
	st := StateFromContext(r.Context())
	switch outcome := Resolve(st, req); outcome {
	case OutcomeGranted:
		next.ServeHTTP(w, r)
	case OutcomePending:
		m.renderPending(w, r)
	case OutcomeSignIn:
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			sess.SetReturnPath(requestPath(r))
		}
		http.Redirect(w, r, LoginRoute, http.StatusSeeOther)
	case OutcomeForbidden:
		if m.Logger != nil {
			attrs := []any{slog.String("path", r.URL.Path)}
			if st.User != nil {
				attrs = append(attrs, slog.String("role", string(st.User.Role)))
			}
			m.Logger.Warn("route denied", attrs...)
		}
		http.Redirect(w, r, DeniedRoute, http.StatusSeeOther)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (m Middleware) renderPending(w http.ResponseWriter, r *http.Request) {
	if m.Pending != nil {
		m.Pending.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Retry-After", "2")
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

// requestPath preserves path and query so the account returns to the exact
// page it asked for.
func requestPath(r *http.Request) string {
	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return path
}

// SafeReturnPath validates a stored return path before it is used as a
// redirect target. Only same-site relative paths survive; anything that
// could leave the portal (scheme, host, protocol-relative) is discarded.
func SafeReturnPath(path string) string {
	if path == "" || path[0] != '/' {
		return ""
	}
	if len(path) > 1 && (path[1] == '/' || path[1] == '\\') {
		return ""
	}
	return path
}
