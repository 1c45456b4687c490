package authapi

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campus-sis/campus-sis/internal/identity"
)

// GrantClaims is the payload the auth service signs into each grant token.
type GrantClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// GrantTokens signs and verifies grant tokens with the shared HS256 secret.
// The portal only verifies; Sign exists for the in-memory stub and the
// seeding tooling, which stand in for the service.
type GrantTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewGrantTokens(secret string, ttl time.Duration) *GrantTokens {
	return &GrantTokens{secret: []byte(secret), ttl: ttl}
}

// Sign produces a grant token for the given profile.
func (g *GrantTokens) Sign(now time.Time, p identity.Profile) (string, time.Time, error) {
	expires := now.Add(g.ttl)
	claims := &GrantClaims{
		UserID: p.ID,
		Role:   string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	return signed, expires, err
}

// Verify checks the signature and expiry and returns the embedded claims.
// The result matches ErrUnauthorized so callers can treat a dead grant the
// same way they treat a 401 from the service.
func (g *GrantTokens) Verify(tokenString string) (*GrantClaims, error) {
	if tokenString == "" {
		return nil, ErrUnauthorized
	}

	token, err := jwt.ParseWithClaims(tokenString, &GrantClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*GrantClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// CrossCheck rejects a refreshed profile that no longer matches the grant it
// was fetched with. A role change on the service side must go through a
// fresh sign-in, never a silent swap under an old token. Roles compare in
// canonical form; claims outside the known set never match anything.
func (g *GrantTokens) CrossCheck(claims *GrantClaims, p *identity.Profile) error {
	if p == nil || claims == nil {
		return ErrUnauthorized
	}
	claimRole, err := identity.ParseRole(claims.Role)
	if err != nil || claims.UserID != p.ID || claimRole != p.Role {
		return ErrUnauthorized
	}
	return nil
}
