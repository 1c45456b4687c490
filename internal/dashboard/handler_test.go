package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-sis/campus-sis/internal/auth"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/shared"
	"github.com/campus-sis/campus-sis/internal/view"
	_ "github.com/campus-sis/campus-sis/testing"
)

const testAdminPanelURL = "https://admin.campus.example/panel"

func newHandlerFixture(t *testing.T, repo *fakeRepo) *Handler {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	templates, err := view.NewEngine()
	require.NoError(t, err)

	service := NewService(newDirectoryService(t, seededStub()), repo, discardLogger())
	csrf := shared.NewCSRFManager("csrfsecret")
	gate := authz.Middleware{Logger: discardLogger()}

	return NewHandler(discardLogger(), service, templates, csrf, gate, nil, testAdminPanelURL)
}

func mountWithState(t *testing.T, h *Handler, mr *miniredis.Miniredis, st authz.State) http.Handler {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	manager := shared.NewSessionManager(client, "test_session", time.Hour, false)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := manager.Load(req.Context(), req)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(req.Context(), sess)
			ctx = authz.ContextWithState(ctx, st)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.MountRoutes(r)
	return r
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestDashboardRendersAdminView(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := &fakeRepo{
		stats:  auth.SigninStats{Today: 5, ThisWeek: 19},
		recent: []auth.SigninEvent{{Username: "rina.f", Role: "FACULTY", At: time.Now()}},
	}
	h := newHandlerFixture(t, repo)
	router := mountWithState(t, h, mr, authz.State{User: adminProfile()})

	rr := get(t, router, "/")

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Students")
	assert.Contains(t, body, "1,204")
	assert.Contains(t, body, "Recent sign-ins")
	assert.Contains(t, body, testAdminPanelURL, "admins get the outbound panel link")
}

func TestDashboardHidesAdminPartsFromFaculty(t *testing.T) {
	mr := miniredis.RunT(t)
	h := newHandlerFixture(t, &fakeRepo{})
	router := mountWithState(t, h, mr, authz.State{User: advisorProfile()})

	rr := get(t, router, "/")

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.NotContains(t, body, testAdminPanelURL)
	assert.NotContains(t, body, "Recent sign-ins")
	assert.Contains(t, body, "My sections")
	assert.Contains(t, body, "Advisory")
}

func TestDashboardAdvisoryTeaser(t *testing.T) {
	t.Run("advisors get the overview link", func(t *testing.T) {
		mr := miniredis.RunT(t)
		h := newHandlerFixture(t, &fakeRepo{})
		router := mountWithState(t, h, mr, authz.State{User: advisorProfile()})

		rr := get(t, router, "/")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `href="/advisory"`)
	})

	t.Run("plain faculty get the note instead", func(t *testing.T) {
		mr := miniredis.RunT(t)
		h := newHandlerFixture(t, &fakeRepo{})
		router := mountWithState(t, h, mr, authz.State{User: facultyProfile()})

		rr := get(t, router, "/")

		require.Equal(t, http.StatusOK, rr.Code, "the note renders in place, no redirect")
		body := rr.Body.String()
		assert.Contains(t, body, "limited to class advisors")
		assert.NotContains(t, body, `href="/advisory"`)
	})
}

func TestDashboardRedirectsSignedOutToLogin(t *testing.T) {
	mr := miniredis.RunT(t)
	h := newHandlerFixture(t, &fakeRepo{})
	router := mountWithState(t, h, mr, authz.State{})

	rr := get(t, router, "/")

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, authz.LoginRoute, rr.Header().Get("Location"))
}

func TestStatsAPIReturnsJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	h := newHandlerFixture(t, &fakeRepo{})
	router := mountWithState(t, h, mr, authz.State{User: adminProfile()})

	rr := get(t, router, "/api/dashboard/stats")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"students":1204`)
}

func TestStatsAPIDeniedForStudents(t *testing.T) {
	mr := miniredis.RunT(t)
	h := newHandlerFixture(t, &fakeRepo{})
	router := mountWithState(t, h, mr, authz.State{User: studentProfile()})

	rr := get(t, router, "/api/dashboard/stats")

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, authz.DeniedRoute, rr.Header().Get("Location"))
}

func TestJobsPageRendersWithoutInspector(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := &fakeRepo{rollups: []auth.RollupRow{{Day: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), Role: "ADMIN", Count: 4}}}
	h := newHandlerFixture(t, repo)
	router := mountWithState(t, h, mr, authz.State{User: adminProfile()})

	rr := get(t, router, "/admin/jobs")

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Queue information is unavailable")
	assert.Contains(t, body, "03 Feb 2026")
	if !strings.Contains(body, "ADMIN") {
		t.Fatalf("expected rollup role in body")
	}
}

func TestJobsPageDeniedForFaculty(t *testing.T) {
	mr := miniredis.RunT(t)
	h := newHandlerFixture(t, &fakeRepo{})
	router := mountWithState(t, h, mr, authz.State{User: advisorProfile()})

	rr := get(t, router, "/admin/jobs")

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, authz.DeniedRoute, rr.Header().Get("Location"))
}
