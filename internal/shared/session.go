package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionKeyReturnPath stores the path a gated request was redirected away
// from. The login handler consumes it after a successful sign-in; it lives
// for at most one login round-trip.
const SessionKeyReturnPath = "return_path"

// FlashMessage is a one-time notice shown on the next rendered page.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager stores sessions in Redis, identified by a browser cookie.
// The cookie carries only the session ID; everything else stays server side.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Session holds one request's session data. Mutations mark it dirty; the
// session middleware commits dirty sessions when the response starts.
type Session struct {
	ID        string
	values    map[string]string
	userID    string
	flashes   []FlashMessage
	isNew     bool
	dirty     bool
	destroyed bool
}

// sessionRecord is the JSON shape stored under the Redis key.
type sessionRecord struct {
	Values  map[string]string `json:"values"`
	UserID  string            `json:"user_id"`
	Flashes []FlashMessage    `json:"flashes"`
}

// Load returns the session named by the request's cookie. A request without
// a cookie gets a fresh session; a cookie whose stored record has expired
// gets a fresh session under the same ID.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.fresh(), nil
		}
		return nil, err
	}

	raw, err := sm.client.Get(ctx, sm.storageKey(cookie.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		sess := sm.fresh()
		sess.ID = cookie.Value
		return sess, nil
	}
	if err != nil {
		return nil, err
	}

	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &Session{
		ID:      cookie.Value,
		values:  rec.Values,
		userID:  rec.UserID,
		flashes: rec.Flashes,
	}, nil
}

// Commit writes the session to Redis and refreshes the cookie. A destroyed
// session is deleted and its cookie expired instead.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.storageKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		sm.writeCookie(w, "", -1)
		return nil
	}

	if sess.isNew && sess.ID == "" {
		sess.ID = sm.newSessionID()
	}

	if sess.dirty || sess.isNew {
		data, err := json.Marshal(sessionRecord{Values: sess.values, UserID: sess.userID, Flashes: sess.flashes})
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sm.storageKey(sess.ID), data, sm.ttl).Err(); err != nil {
			return err
		}
		sess.dirty = false
	}

	if sess.ID != "" {
		sm.writeCookie(w, sess.ID, 0)
	}
	return nil
}

// Destroy marks the session for deletion at commit time.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// writeCookie sets the session cookie. A negative maxAge expires it.
func (sm *SessionManager) writeCookie(w http.ResponseWriter, value string, maxAge int) {
	cookie := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge < 0 {
		cookie.MaxAge = maxAge
	} else {
		cookie.Expires = time.Now().Add(sm.ttl)
	}
	http.SetCookie(w, cookie)
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value, returning "" when unset.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetUser associates the session with an account identifier.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the current account identifier.
func (s *Session) User() string {
	return s.userID
}

// SetReturnPath records where a gated request wanted to go before it was
// redirected to the login page.
func (s *Session) SetReturnPath(path string) {
	if path == "" {
		return
	}
	s.Set(SessionKeyReturnPath, path)
}

// ConsumeReturnPath returns the stored return path and clears the slot.
func (s *Session) ConsumeReturnPath() string {
	path := s.Get(SessionKeyReturnPath)
	if path != "" {
		s.Delete(SessionKeyReturnPath)
	}
	return path
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash removes and returns the oldest flash message, nil when there is
// none. The removal persists with the next commit.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}

func (sm *SessionManager) fresh() *Session {
	return &Session{
		ID:     sm.newSessionID(),
		values: make(map[string]string),
		isNew:  true,
		dirty:  true,
	}
}

func (sm *SessionManager) storageKey(id string) string {
	return "session:" + id
}

// newSessionID returns a UUID, falling back to raw random bytes.
func (sm *SessionManager) newSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
