// Package auth provides authentication for outgoing archive requests and the
// session state machine around login/logout.
//
//go:generate mockgen -destination=./mocks/auth.go . SecretStore
package auth

import "net/http"

// Authenticator applies authentication material to an HTTP request.
type Authenticator interface {
	Apply(req *http.Request) error
	Type() Type
}

// Type represents the kind of authentication.
type Type string

// Authentication types.
const (
	// BasicAuthType is HTTP Basic Authentication.
	BasicAuthType Type = "basic"
	// BearerAuthType is Bearer token authentication.
	BearerAuthType Type = "bearer"
	// CookieAuthType is cookie-session authentication.
	CookieAuthType Type = "cookie"
	// HeaderAuthType is custom header-based authentication.
	HeaderAuthType Type = "header"
)

// BasicAuth holds HTTP Basic Authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Apply adds Basic Authentication headers to the request.
func (b BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// Type returns BasicAuthType.
func (b BasicAuth) Type() Type { return BasicAuthType }

// BearerAuth holds a Bearer token.
type BearerAuth struct {
	Token string
}

// Apply adds the token to the Authorization header.
func (b BearerAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

// Type returns BearerAuthType.
func (b BearerAuth) Type() Type { return BearerAuthType }

// CookieAuth carries the session cookies handed out by a login endpoint.
type CookieAuth struct {
	Cookies []*http.Cookie
}

// Apply attaches the session cookies to the request.
func (c CookieAuth) Apply(req *http.Request) error {
	for _, ck := range c.Cookies {
		req.AddCookie(ck)
	}
	return nil
}

// Type returns CookieAuthType.
func (c CookieAuth) Type() Type { return CookieAuthType }

// HeaderAuth applies custom HTTP headers.
type HeaderAuth struct {
	Headers map[string]string
}

// Apply sets the configured headers on the request.
func (h HeaderAuth) Apply(req *http.Request) error {
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

// Type returns HeaderAuthType.
func (h HeaderAuth) Type() Type { return HeaderAuthType }
