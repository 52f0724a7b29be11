package config

import "github.com/virgo-archive/tapir/pkg/auth"

// AuthConfig holds the static authentication options for a service. Session
// logins (username/password) are handled interactively; this covers
// credentials that live in the config file.
type AuthConfig struct {
	Basic  *BasicAuth  `yaml:"basic,omitempty"`
	Bearer *BearerAuth `yaml:"bearer,omitempty"`
	Header *HeaderAuth `yaml:"header,omitempty"`
}

// BasicAuth configures HTTP Basic Authentication.
type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BearerAuth configures a static Bearer token.
type BearerAuth struct {
	Token string `yaml:"token"`
}

// HeaderAuth configures custom authentication headers.
type HeaderAuth struct {
	Headers map[string]string `yaml:"headers"`
}

// ToAuthenticator converts the configuration to an auth.Authenticator, or
// nil when no static auth is configured.
func (a *AuthConfig) ToAuthenticator() auth.Authenticator {
	switch {
	case a == nil:
		return nil
	case a.Basic != nil:
		return auth.BasicAuth{Username: a.Basic.Username, Password: a.Basic.Password}
	case a.Bearer != nil:
		return auth.BearerAuth{Token: a.Bearer.Token}
	case a.Header != nil:
		return auth.HeaderAuth{Headers: a.Header.Headers}
	default:
		return nil
	}
}
