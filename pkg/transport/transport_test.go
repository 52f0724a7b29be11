package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virgo-archive/tapir/pkg/errors"
)

type headerAuthorizer struct {
	key, value string
}

func (h headerAuthorizer) Authorize(req *http.Request) error {
	req.Header.Set(h.key, h.value)
	return nil
}

func TestGetStampsUserAgentAndAuth(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	c := NewClient(time.Second,
		WithUserAgent("tapir-test/0.1"),
		WithAuthorizer(headerAuthorizer{key: "X-Token", value: "t1"}),
	)
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"Range": "bytes=5-"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "tapir-test/0.1", got.Get("User-Agent"))
	assert.Equal(t, "t1", got.Get("X-Token"))
	assert.Equal(t, "bytes=5-", got.Get("Range"))
}

func TestPostFormSendsEncodedBody(t *testing.T) {
	var body string
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		contentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	form := url.Values{}
	form.Set("QUERY", "SELECT TOP 5 * FROM ivoa.obscore")
	c := NewClient(time.Second)
	resp, err := c.PostForm(context.Background(), srv.URL, form)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Contains(t, body, "QUERY=SELECT")
}

func TestConnectionFailureWrapsErrTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(time.Second)
	_, err := c.Get(context.Background(), srv.URL, nil)
	assert.True(t, stderrors.Is(err, errors.ErrTransport), "got %v", err)
}

func TestMethods(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(time.Second)

	resp, err := c.Head(ctx, srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.MethodHead, method)

	resp, err = c.Delete(ctx, srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.MethodDelete, method)

	resp, err = c.PostMultipart(ctx, srv.URL, "multipart/form-data; boundary=x", strings.NewReader("--x--"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.MethodPost, method)
}

func TestIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(20 * time.Millisecond)
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)

	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(errors.ErrTransport))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, errors.ErrAuthenticationFailed},
		{http.StatusForbidden, errors.ErrAuthenticationFailed},
		{http.StatusInternalServerError, errors.ErrTransport},
		{http.StatusServiceUnavailable, errors.ErrTransport},
		{http.StatusNotFound, errors.ErrDownloadFailed},
		{http.StatusTeapot, errors.ErrDownloadFailed},
	}
	for _, tt := range tests {
		assert.True(t, stderrors.Is(ClassifyStatus(tt.code), tt.want), "status %d", tt.code)
	}
}

func TestRateLimitDelaysRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// 20 rps with burst 1: the second request must wait roughly 50ms.
	c := NewClient(time.Second, WithRateLimit(20, 1))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		resp, err := c.Get(ctx, srv.URL, nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
