package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/campus-sis/campus-sis/internal/authapi"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/identity"
	"github.com/campus-sis/campus-sis/internal/shared"
)

// Service owns the sign-in flow and the per-request session resolution.
type Service struct {
	api          authapi.Client
	tokens       *authapi.GrantTokens
	repo         Repository
	refreshEvery time.Duration
	logger       *slog.Logger
}

// NewService constructs a new Service. refreshEvery bounds how old a cached
// profile may get before the next request re-reads it from the auth service.
func NewService(api authapi.Client, tokens *authapi.GrantTokens, repo Repository, refreshEvery time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:          api,
		tokens:       tokens,
		repo:         repo,
		refreshEvery: refreshEvery,
		logger:       logger,
	}
}

// SignIn exchanges credentials for a grant and primes the session with it.
func (s *Service) SignIn(ctx context.Context, sess *shared.Session, username, password string) (*identity.Profile, error) {
	grant, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !grant.Profile.Role.Valid() {
		return nil, fmt.Errorf("auth service returned unknown role %q", grant.Profile.Role)
	}
	if sess != nil {
		storeGrant(sess, grant, time.Now())
	}
	profile := grant.Profile
	return &profile, nil
}

// RegisterSession persists the session audit row and the sign-in event.
func (s *Service) RegisterSession(ctx context.Context, id string, p identity.Profile, expiresAt time.Time, ip, ua string) error {
	if err := s.repo.CreateSession(ctx, id, p.ID, expiresAt, ip, ua); err != nil {
		return err
	}
	return s.repo.RecordSignin(ctx, SigninEvent{
		UserID:    p.ID,
		Username:  p.Username,
		Role:      string(p.Role),
		SessionID: id,
		IP:        ip,
		UserAgent: ua,
		At:        time.Now().UTC(),
	})
}

// RemoveSession deletes a session audit row.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// Resolve rebuilds the account state for one request. A dead grant means
// signed out. A live grant with a fresh cached profile serves from cache;
// past the refresh window the profile is re-read from the auth service. When
// that read fails transiently the state is resolving: no page may gate on
// the last known profile, because a revocation could be hiding behind the
// outage.
func (s *Service) Resolve(ctx context.Context, sess *shared.Session) authz.State {
	if sess == nil {
		return authz.State{}
	}
	token := sess.Get(sessionKeyGrant)
	if token == "" {
		return authz.State{}
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		clearGrant(sess)
		return authz.State{}
	}

	if profile, refreshedAt, ok := cachedProfile(sess); ok && time.Since(refreshedAt) < s.refreshEvery {
		return authz.State{User: profile}
	}

	profile, err := s.api.Profile(ctx, token)
	if err != nil {
		if errors.Is(err, authapi.ErrUnauthorized) {
			clearGrant(sess)
			return authz.State{}
		}
		s.logger.Warn("profile refresh failed", slog.Any("error", err))
		return authz.State{Resolving: true}
	}
	if !profile.Role.Valid() || s.tokens.CrossCheck(claims, profile) != nil {
		clearGrant(sess)
		return authz.State{}
	}

	storeProfile(sess, profile, time.Now())
	return authz.State{User: profile}
}

// StateMiddleware resolves the session's account on every request and makes
// the state available to the route gates and the templates.
func (s *Service) StateMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := s.Resolve(r.Context(), shared.SessionFromContext(r.Context()))
			next.ServeHTTP(w, r.WithContext(authz.ContextWithState(r.Context(), st)))
		})
	}
}

func storeGrant(sess *shared.Session, grant *authapi.Grant, now time.Time) {
	sess.Set(sessionKeyGrant, grant.Token)
	sess.SetUser(grant.Profile.ID)
	storeProfile(sess, &grant.Profile, now)
}

func storeProfile(sess *shared.Session, p *identity.Profile, now time.Time) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	sess.Set(sessionKeyProfile, string(raw))
	sess.Set(sessionKeyRefreshedAt, now.UTC().Format(time.RFC3339))
}

func clearGrant(sess *shared.Session) {
	sess.Delete(sessionKeyGrant)
	sess.Delete(sessionKeyProfile)
	sess.Delete(sessionKeyRefreshedAt)
	sess.SetUser("")
}

func cachedProfile(sess *shared.Session) (*identity.Profile, time.Time, bool) {
	raw := sess.Get(sessionKeyProfile)
	if raw == "" {
		return nil, time.Time{}, false
	}
	var p identity.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, time.Time{}, false
	}
	refreshedAt, err := time.Parse(time.RFC3339, sess.Get(sessionKeyRefreshedAt))
	if err != nil {
		return nil, time.Time{}, false
	}
	return &p, refreshedAt, true
}
