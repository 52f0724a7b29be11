package auth_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virgo-archive/tapir/pkg/auth"
)

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://archive.example.org/sync", http.NoBody)
	require.NoError(t, err)
	return req
}

func TestBasicAuth(t *testing.T) {
	req := newRequest(t)
	a := auth.BasicAuth{Username: "alice", Password: "s3cret"}
	require.NoError(t, a.Apply(req))

	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "s3cret", pass)
	assert.Equal(t, auth.BasicAuthType, a.Type())
}

func TestBearerAuth(t *testing.T) {
	req := newRequest(t)
	a := auth.BearerAuth{Token: "tok-123"}
	require.NoError(t, a.Apply(req))

	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
	assert.Equal(t, auth.BearerAuthType, a.Type())
}

func TestCookieAuth(t *testing.T) {
	req := newRequest(t)
	a := auth.CookieAuth{Cookies: []*http.Cookie{{Name: "session", Value: "xyz"}}}
	require.NoError(t, a.Apply(req))

	ck, err := req.Cookie("session")
	require.NoError(t, err)
	assert.Equal(t, "xyz", ck.Value)
	assert.Equal(t, auth.CookieAuthType, a.Type())
}

func TestHeaderAuth(t *testing.T) {
	req := newRequest(t)
	a := auth.HeaderAuth{Headers: map[string]string{"X-Api-Key": "k1"}}
	require.NoError(t, a.Apply(req))

	assert.Equal(t, "k1", req.Header.Get("X-Api-Key"))
	assert.Equal(t, auth.HeaderAuthType, a.Type())
}
