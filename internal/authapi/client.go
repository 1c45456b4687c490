// Package authapi speaks to the campus auth and directory service. The
// service owns every account: the portal verifies credentials, refreshes
// profiles and reads roster data through this client and keeps no account
// store of its own.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campus-sis/campus-sis/internal/identity"
)

// ErrUnauthorized reports a grant the service no longer accepts. Callers
// treat it as a signed-out account, not as an outage.
var ErrUnauthorized = errors.New("authapi: unauthorized")

// Grant is the result of a successful sign-in.
type Grant struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	Profile   identity.Profile `json:"user"`
}

// Section is one class section as the directory lists it.
type Section struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	AdvisorName string `json:"advisor_name"`
	Students    int    `json:"students"`
}

// Stats is the directory headcount snapshot behind the dashboard cards.
type Stats struct {
	Students int `json:"students"`
	Faculty  int `json:"faculty"`
	Sections int `json:"sections"`
}

// Client is the portal's view of the auth and directory service.
type Client interface {
	// Login exchanges credentials for a grant. A bad pair returns an
	// *Error wrapping ErrUnauthorized.
	Login(ctx context.Context, username, password string) (*Grant, error)
	// Profile re-reads the account behind a grant. An expired or revoked
	// grant returns an error matching ErrUnauthorized.
	Profile(ctx context.Context, token string) (*identity.Profile, error)
	DirectoryStats(ctx context.Context) (Stats, error)
	Sections(ctx context.Context) ([]Section, error)
	Section(ctx context.Context, code string) (*Section, error)
}

// Error carries the service's HTTP status and, when the service sent one,
// its human-readable message. The sign-in page shows Message verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authapi: status %d", e.Status)
	}
	return fmt.Sprintf("authapi: status %d: %s", e.Status, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) see through 401 responses.
func (e *Error) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// HTTPClient talks to a real deployment of the service.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient builds a client for the service at baseURL. The API key
// authenticates the portal itself; the timeout bounds every call so a slow
// service degrades a page instead of hanging it.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) (*Grant, error) {
	body := map[string]string{"username": username, "password": password}
	var grant Grant
	if err := c.call(ctx, http.MethodPost, "/v1/login", "", body, &grant); err != nil {
		return nil, err
	}
	if grant.Token == "" {
		return nil, &Error{Status: http.StatusBadGateway, Message: "sign-in response carried no token"}
	}
	normalizeRole(&grant.Profile)
	return &grant, nil
}

func (c *HTTPClient) Profile(ctx context.Context, token string) (*identity.Profile, error) {
	var profile identity.Profile
	if err := c.call(ctx, http.MethodGet, "/v1/profile", token, nil, &profile); err != nil {
		return nil, err
	}
	normalizeRole(&profile)
	return &profile, nil
}

// normalizeRole maps the service's role spelling onto the portal's closed
// set. Unknown values pass through untouched; the auth layer signs those
// accounts out rather than guessing.
func normalizeRole(p *identity.Profile) {
	if role, err := identity.ParseRole(string(p.Role)); err == nil {
		p.Role = role
	}
}

func (c *HTTPClient) DirectoryStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.call(ctx, http.MethodGet, "/v1/directory/stats", "", nil, &stats)
	return stats, err
}

func (c *HTTPClient) Sections(ctx context.Context) ([]Section, error) {
	var sections []Section
	if err := c.call(ctx, http.MethodGet, "/v1/sections", "", nil, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

func (c *HTTPClient) Section(ctx context.Context, code string) (*Section, error) {
	var section Section
	if err := c.call(ctx, http.MethodGet, "/v1/sections/"+url.PathEscape(code), "", nil, &section); err != nil {
		return nil, err
	}
	return &section, nil
}

// call issues one request and decodes the response into out. Non-2xx
// responses become *Error, keeping the service's message when its error
// envelope carries one.
func (c *HTTPClient) call(ctx context.Context, method, path, token string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		var envelope struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			apiErr.Message = envelope.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
