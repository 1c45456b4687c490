package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

const (
	// CSRFSessionKey is where the minted token lives in the session store.
	CSRFSessionKey = "csrf_token"
	// CSRFFormField is the hidden input every portal form posts back.
	CSRFFormField = "csrf_token"
	// CSRFHeader carries the token on requests without a form body.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager mints and checks the per-session CSRF token. A session gets
// one token, minted on first use and reused by every later form.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a manager keyed with the given secret.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken returns the session's token, minting one on first use.
func (m *CSRFManager) EnsureToken(ctx context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("session missing")
	}
	if token := sess.Get(CSRFSessionKey); token != "" {
		return token, nil
	}
	token := m.mint(sess.ID)
	sess.Set(CSRFSessionKey, token)
	return token, nil
}

// VerifyToken checks a submitted token against the session's. A token that
// never arrived and one that does not match are distinct errors.
func (m *CSRFManager) VerifyToken(ctx context.Context, sess *Session, token string) error {
	if sess == nil {
		return ErrCSRFTokenMissing
	}
	expected := sess.Get(CSRFSessionKey)
	if expected == "" || token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

// mint derives a token from the session ID and the mint time under the
// manager's secret.
func (m *CSRFManager) mint(sessionID string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sessionID))
	_, _ = mac.Write([]byte{'|'})
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], uint64(time.Now().UnixNano()))
	_, _ = mac.Write(nonce[:])
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
