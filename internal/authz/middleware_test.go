package authz_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/identity"
	"github.com/campus-sis/campus-sis/internal/shared"
)

func testMiddleware() authz.Middleware {
	return authz.Middleware{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newTestSession(t *testing.T) *shared.Session {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sm := shared.NewSessionManager(client, "campus_session", time.Hour, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(req.Context(), req)
	require.NoError(t, err)
	return sess
}

// gateRequest runs one request through the gate and reports whether the
// wrapped handler was reached.
func gateRequest(t *testing.T, target string, st authz.State, sess *shared.Session, gate func(http.Handler) http.Handler) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, target, nil)
	ctx := authz.ContextWithState(r.Context(), st)
	if sess != nil {
		ctx = shared.ContextWithSession(ctx, sess)
	}

	w := httptest.NewRecorder()
	gate(next).ServeHTTP(w, r.WithContext(ctx))
	return w, reached
}

func TestGateRedirectsSignedOutToLogin(t *testing.T) {
	sess := newTestSession(t)
	gate := testMiddleware().RequireRoles(identity.RoleAdmin)

	w, reached := gateRequest(t, "/sections/SCI-2A?tab=roster", authz.State{}, sess, gate)

	assert.False(t, reached)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, authz.LoginRoute, w.Header().Get("Location"))
	assert.Equal(t, "/sections/SCI-2A?tab=roster", sess.ConsumeReturnPath(), "gate should record the full requested path")
}

func TestGateRedirectsSignedOutWithoutSession(t *testing.T) {
	gate := testMiddleware().RequireRoles(identity.RoleAdmin)

	w, reached := gateRequest(t, "/dashboard", authz.State{}, nil, gate)

	assert.False(t, reached)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, authz.LoginRoute, w.Header().Get("Location"))
}

func TestGateRedirectsWrongRoleToDenied(t *testing.T) {
	sess := newTestSession(t)
	student := &identity.Profile{ID: "u1", Role: identity.RoleStudent}
	gate := testMiddleware().RequireRoles(identity.RoleAdmin)

	w, reached := gateRequest(t, "/admin/jobs", authz.State{User: student}, sess, gate)

	assert.False(t, reached)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, authz.DeniedRoute, w.Header().Get("Location"))
	assert.Empty(t, sess.ConsumeReturnPath(), "denied accounts keep no return path")
}

func TestGatePassesMatchingRole(t *testing.T) {
	admin := &identity.Profile{ID: "u1", Role: identity.RoleAdmin}
	gate := testMiddleware().RequireRoles(identity.RoleAdmin)

	w, reached := gateRequest(t, "/admin/jobs", authz.State{User: admin}, nil, gate)

	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGatePendingFallsBackToUnavailable(t *testing.T) {
	gate := testMiddleware().Require(authz.Requirement{})

	w, reached := gateRequest(t, "/dashboard", authz.State{Resolving: true}, nil, gate)

	assert.False(t, reached)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestGatePendingRendersWaitPage(t *testing.T) {
	m := testMiddleware()
	m.Pending = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hold on"))
	})
	gate := m.Require(authz.Requirement{})

	w, reached := gateRequest(t, "/dashboard", authz.State{Resolving: true}, nil, gate)

	assert.False(t, reached)
	assert.Equal(t, "hold on", w.Body.String())
}

func TestRequireClassAdvisor(t *testing.T) {
	advisor := &identity.Profile{ID: "u1", Role: identity.RoleFaculty, Advisor: true}
	plain := &identity.Profile{ID: "u2", Role: identity.RoleFaculty}
	gate := testMiddleware().RequireClassAdvisor()

	w, reached := gateRequest(t, "/advisory", authz.State{User: advisor}, nil, gate)
	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, w.Code)

	w, reached = gateRequest(t, "/advisory", authz.State{User: plain}, nil, gate)
	assert.False(t, reached)
	assert.Equal(t, authz.DeniedRoute, w.Header().Get("Location"))
}

func TestRequireSectionParam(t *testing.T) {
	student := &identity.Profile{ID: "u1", Role: identity.RoleStudent, Sections: []string{"SCI-2A"}}
	admin := &identity.Profile{ID: "u2", Role: identity.RoleAdmin}

	serve := func(st authz.State, target string) *httptest.ResponseRecorder {
		router := chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(authz.ContextWithState(r.Context(), st)))
			})
		})
		gate := testMiddleware().RequireSectionParam("code", identity.RoleFaculty, identity.RoleStudent)
		router.With(gate).Get("/sections/{code}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, serve(authz.State{User: student}, "/sections/SCI-2A").Code)

	denied := serve(authz.State{User: student}, "/sections/ART-3C")
	assert.Equal(t, http.StatusSeeOther, denied.Code)
	assert.Equal(t, authz.DeniedRoute, denied.Header().Get("Location"))

	forbiddenRole := serve(authz.State{User: admin}, "/sections/ART-3C")
	assert.Equal(t, http.StatusSeeOther, forbiddenRole.Code, "admin is not in the allowed role list for the roster page")
}

func TestSafeReturnPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/dashboard", "/dashboard"},
		{"/sections/SCI-2A?tab=roster", "/sections/SCI-2A?tab=roster"},
		{"/", "/"},
		{"", ""},
		{"dashboard", ""},
		{"//evil.example/phish", ""},
		{"/\\evil.example", ""},
		{"https://evil.example", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, authz.SafeReturnPath(tc.in), "input %q", tc.in)
	}
}
