package authapi

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/campus-sis/campus-sis/internal/identity"
)

// Stub is an in-memory stand-in for the auth service, so the portal's tests
// can boot the full stack without a live deployment.
type Stub struct {
	mu       sync.Mutex
	tokens   *GrantTokens
	accounts map[string]stubAccount
	sections []Section
	stats    Stats

	// LoginErr and ProfileErr, when set, override the corresponding call.
	// Setting ProfileErr to a plain error simulates an outage mid-session.
	LoginErr   error
	ProfileErr error

	// Now lets tests pin grant expiry. Nil means time.Now.
	Now func() time.Time
}

type stubAccount struct {
	hash    []byte
	profile identity.Profile
}

// NewStub builds an empty stub whose grants verify against the given
// secret. Grants live for an hour, long enough for any test.
func NewStub(secret string) *Stub {
	return &Stub{
		tokens:   NewGrantTokens(secret, time.Hour),
		accounts: make(map[string]stubAccount),
	}
}

// AddAccount registers a username/password pair. The password is hashed the
// same way a real deployment hashes it.
func (s *Stub) AddAccount(username, password string, p identity.Profile) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(username)] = stubAccount{hash: hash, profile: p}
	return nil
}

// SetSections replaces the roster the stub serves.
func (s *Stub) SetSections(sections []Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections = append([]Section(nil), sections...)
	sort.Slice(s.sections, func(i, j int) bool { return s.sections[i].Code < s.sections[j].Code })
}

// SetStats replaces the directory snapshot the stub serves.
func (s *Stub) SetStats(stats Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

func (s *Stub) Login(_ context.Context, username, password string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LoginErr != nil {
		return nil, s.LoginErr
	}

	account, ok := s.accounts[strings.ToLower(username)]
	if !ok {
		return nil, &Error{Status: http.StatusUnauthorized, Message: "Invalid username or password."}
	}
	if err := bcrypt.CompareHashAndPassword(account.hash, []byte(password)); err != nil {
		return nil, &Error{Status: http.StatusUnauthorized, Message: "Invalid username or password."}
	}

	token, expires, err := s.tokens.Sign(s.now(), account.profile)
	if err != nil {
		return nil, err
	}
	profile := account.profile
	return &Grant{Token: token, ExpiresAt: expires, Profile: profile}, nil
}

func (s *Stub) Profile(_ context.Context, token string) (*identity.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ProfileErr != nil {
		return nil, s.ProfileErr
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	for _, account := range s.accounts {
		if account.profile.ID == claims.UserID {
			profile := account.profile
			return &profile, nil
		}
	}
	return nil, &Error{Status: http.StatusUnauthorized, Message: "Account no longer exists."}
}

func (s *Stub) DirectoryStats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

func (s *Stub) Sections(_ context.Context) ([]Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Section(nil), s.sections...), nil
}

func (s *Stub) Section(_ context.Context, code string) (*Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, section := range s.sections {
		if strings.EqualFold(section.Code, code) {
			found := section
			return &found, nil
		}
	}
	return nil, &Error{Status: http.StatusNotFound, Message: "No such section."}
}

// Tokens exposes the stub's signer so tests can mint grants directly.
func (s *Stub) Tokens() *GrantTokens { return s.tokens }

func (s *Stub) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
