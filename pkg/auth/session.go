package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/virgo-archive/tapir/internal/logger"
	"github.com/virgo-archive/tapir/pkg/errors"
)

// State is the authentication state of a session.
type State string

// Session states.
const (
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
)

// Credential is a principal/secret pair for one host. The secret is never
// logged.
type Credential struct {
	Principal string
	Secret    string
}

// Session holds the per-host authentication state derived from a successful
// login: either a cookie jar or a bearer token.
type Session struct {
	Host      string
	Principal string

	state State
	auth  Authenticator

	// expiresAt is zero when the session material carries no expiry.
	expiresAt time.Time
}

// AuthType names the session's authentication mechanism, or "" when the
// session is anonymous.
func (s *Session) AuthType() Type {
	if s == nil || s.auth == nil {
		return ""
	}
	return s.auth.Type()
}

// Authenticated reports whether the session holds unexpired auth material.
func (s *Session) Authenticated() bool {
	if s == nil || s.state != StateAuthenticated {
		return false
	}
	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt) {
		return false
	}
	return true
}

// Manager owns the credential state for one service and stamps outgoing
// requests. It replaces the global "current logged-in user" seen in older
// archive clients: there is no process-wide session, only this value.
type Manager struct {
	client    *http.Client
	loginURL  string
	logoutURL string
	store     SecretStore

	mu      sync.Mutex
	session *Session
}

// NewManager builds a session manager for the given login/logout endpoints.
// store may be nil; when set, successful logins persist the credential
// through it and logout deletes it.
func NewManager(loginURL, logoutURL string, timeout time.Duration, store SecretStore) *Manager {
	return &Manager{
		client:    &http.Client{Timeout: timeout},
		loginURL:  loginURL,
		logoutURL: logoutURL,
		store:     store,
	}
}

// Login authenticates against the service login endpoint. A rejected
// credential returns ErrAuthenticationFailed; an unreachable or failing auth
// endpoint returns ErrAuthServiceUnavailable, so callers can tell "wrong
// password" from "auth server is down". On failure the manager stays
// anonymous.
func (m *Manager) Login(ctx context.Context, cred Credential) (*Session, error) {
	form := url.Values{}
	form.Set("username", cred.Principal)
	form.Set("password", cred.Secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAuthServiceUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Wrapf(errors.ErrAuthenticationFailed, "server rejected credentials for %q", cred.Principal)
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(errors.ErrAuthServiceUnavailable, "login endpoint returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Wrapf(errors.ErrAuthServiceUnavailable, "unexpected login status %d", resp.StatusCode)
	}

	session, err := m.sessionFromResponse(resp, cred)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Store(session.Host, cred.Principal, cred.Secret); err != nil {
			logger.Warn("Failed to persist credential", logger.Fields{"host": session.Host, "principal": cred.Principal})
		}
	}
	logger.Info("Logged in", logger.Fields{"host": session.Host, "principal": cred.Principal})
	return session, nil
}

// sessionFromResponse derives session material from a successful login:
// cookies when the server set any, otherwise the body is taken as a bearer
// token. Tokens that parse as JWTs contribute their exp claim as the session
// expiry.
func (m *Manager) sessionFromResponse(resp *http.Response, cred Credential) (*Session, error) {
	host := ""
	if resp.Request != nil && resp.Request.URL != nil {
		host = resp.Request.URL.Host
	}
	session := &Session{
		Host:      host,
		Principal: cred.Principal,
		state:     StateAuthenticated,
	}

	if cookies := resp.Cookies(); len(cookies) > 0 {
		session.auth = CookieAuth{Cookies: cookies}
		for _, ck := range cookies {
			if !ck.Expires.IsZero() {
				session.expiresAt = ck.Expires
			}
		}
		return session, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, errors.Wrap(errors.ErrAuthServiceUnavailable, "failed to read login response")
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return nil, errors.Wrap(errors.ErrAuthServiceUnavailable, "login response carried neither cookies nor a token")
	}
	session.auth = BearerAuth{Token: token}
	session.expiresAt = tokenExpiry(token)
	return session, nil
}

// tokenExpiry extracts the exp claim from a JWT bearer token. Opaque tokens
// yield a zero time (no known expiry). The signature is not checked here; the
// server remains the authority, this only drives proactive re-login.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Logout invalidates the session server-side and drops the local state. The
// local session is cleared even when the server call fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if session == nil {
		return nil
	}
	if m.store != nil {
		_ = m.store.Delete(session.Host, session.Principal)
	}
	if m.logoutURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.logoutURL, http.NoBody)
	if err != nil {
		return errors.Wrap(err, "failed to create logout request")
	}
	if session.auth != nil {
		_ = session.auth.Apply(req)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrAuthServiceUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return errors.Wrapf(errors.ErrAuthServiceUnavailable, "logout returned %d", resp.StatusCode)
	}
	logger.Info("Logged out", logger.Fields{"host": session.Host})
	return nil
}

// Authorize stamps an outgoing request with the current session's auth
// material. Anonymous sessions leave the request untouched.
func (m *Manager) Authorize(req *http.Request) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if !session.Authenticated() {
		return nil
	}
	return session.auth.Apply(req)
}

// IsAuthenticated reports whether the manager holds a live session.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Authenticated()
}

// Session returns the current session, or nil when anonymous.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}
