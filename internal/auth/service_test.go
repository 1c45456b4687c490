package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-sis/campus-sis/internal/auth"
	"github.com/campus-sis/campus-sis/internal/authapi"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/identity"
	"github.com/campus-sis/campus-sis/internal/shared"
)

type countingClient struct {
	*authapi.Stub
	profileCalls int
}

func (c *countingClient) Profile(ctx context.Context, token string) (*identity.Profile, error) {
	c.profileCalls++
	return c.Stub.Profile(ctx, token)
}

type resolveFixture struct {
	service *auth.Service
	client  *countingClient
	session *shared.Session
}

func newResolveFixture(t *testing.T, refreshEvery time.Duration) *resolveFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	manager := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := manager.Load(context.Background(), req)
	require.NoError(t, err)

	stub := authapi.NewStub("stub-secret")
	require.NoError(t, stub.AddAccount("rina.f", "correctpass", identity.Profile{
		ID: "u7", Username: "rina.f", DisplayName: "Rina F.", Role: identity.RoleFaculty,
		Advisor: true, Sections: []string{"SCI-2A"},
	}))

	client := &countingClient{Stub: stub}
	service := auth.NewService(client, stub.Tokens(), newRecordingRepo(), refreshEvery, nil)
	return &resolveFixture{service: service, client: client, session: sess}
}

func (f *resolveFixture) signIn(t *testing.T) {
	t.Helper()
	_, err := f.service.SignIn(context.Background(), f.session, "rina.f", "correctpass")
	require.NoError(t, err)
}

func TestResolveSignedOutWithoutGrant(t *testing.T) {
	f := newResolveFixture(t, time.Minute)

	st := f.service.Resolve(context.Background(), f.session)

	assert.False(t, st.Authenticated())
	assert.False(t, st.Resolving)
	assert.Zero(t, f.client.profileCalls)
}

func TestResolveServesFreshCacheWithoutRefresh(t *testing.T) {
	f := newResolveFixture(t, time.Hour)
	f.signIn(t)

	st := f.service.Resolve(context.Background(), f.session)

	require.True(t, st.Authenticated())
	assert.Equal(t, "u7", st.User.ID)
	assert.True(t, st.User.IsClassAdvisor())
	assert.Zero(t, f.client.profileCalls, "a fresh cache must not hit the auth service")
}

func TestResolveRefreshesPastWindow(t *testing.T) {
	f := newResolveFixture(t, 0)
	f.signIn(t)

	st := f.service.Resolve(context.Background(), f.session)

	require.True(t, st.Authenticated())
	assert.Equal(t, 1, f.client.profileCalls)
}

func TestResolveOutageIsResolvingNotSignedOut(t *testing.T) {
	f := newResolveFixture(t, 0)
	f.signIn(t)

	f.client.ProfileErr = errors.New("directory offline")
	st := f.service.Resolve(context.Background(), f.session)

	assert.True(t, st.Resolving)
	assert.Nil(t, st.User, "a stale profile must never back a decision")

	// The grant survives the outage; the next healthy refresh signs back in.
	f.client.ProfileErr = nil
	st = f.service.Resolve(context.Background(), f.session)
	assert.True(t, st.Authenticated())
}

func TestResolveRevokedGrantSignsOut(t *testing.T) {
	f := newResolveFixture(t, 0)
	f.signIn(t)

	f.client.ProfileErr = &authapi.Error{Status: http.StatusUnauthorized, Message: "Session expired."}
	st := f.service.Resolve(context.Background(), f.session)

	assert.False(t, st.Authenticated())
	assert.False(t, st.Resolving)

	// The grant is gone from the session, so recovery on the service side
	// does not resurrect it.
	f.client.ProfileErr = nil
	calls := f.client.profileCalls
	st = f.service.Resolve(context.Background(), f.session)
	assert.False(t, st.Authenticated())
	assert.Equal(t, calls, f.client.profileCalls)
}

func TestResolveExpiredGrantSignsOut(t *testing.T) {
	f := newResolveFixture(t, time.Hour)
	f.client.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	f.signIn(t)

	st := f.service.Resolve(context.Background(), f.session)

	assert.False(t, st.Authenticated())
	assert.False(t, st.Resolving)
	assert.Zero(t, f.client.profileCalls, "an expired grant dies locally, without a service call")
}

func TestResolveRoleDriftSignsOut(t *testing.T) {
	f := newResolveFixture(t, 0)
	f.signIn(t)

	// The account's role changed since the grant was issued.
	require.NoError(t, f.client.Stub.AddAccount("rina.f", "correctpass", identity.Profile{
		ID: "u7", Username: "rina.f", Role: identity.RoleAdmin,
	}))

	st := f.service.Resolve(context.Background(), f.session)

	assert.False(t, st.Authenticated())
	assert.False(t, st.Resolving)
}

func TestStateMiddlewarePlacesStateInContext(t *testing.T) {
	f := newResolveFixture(t, time.Hour)
	f.signIn(t)

	var got authz.State
	handler := f.service.StateMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = authz.StateFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), f.session))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, got.Authenticated())
	assert.Equal(t, identity.RoleFaculty, got.User.Role)
}
