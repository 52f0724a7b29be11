// Package transport issues the individual HTTP requests for all tapir
// components: form posts, multipart submissions, ranged downloads. It stamps
// requests with the session's auth material and an optional client-side rate
// limit, and maps failures onto the shared error taxonomy.
package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/virgo-archive/tapir/pkg/errors"
	"golang.org/x/time/rate"
)

// Authorizer stamps outgoing requests with authentication material. It is a
// narrow view of auth.Manager so this package stays free of session state.
type Authorizer interface {
	Authorize(req *http.Request) error
}

// Client wraps *http.Client with the cross-cutting request concerns.
type Client struct {
	client     *http.Client
	userAgent  string
	limiter    *rate.Limiter
	authorizer Authorizer
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRateLimit throttles outgoing requests to rps requests per second.
// Archives publish politeness limits; exceeding them gets clients banned.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithAuthorizer attaches the session manager that stamps requests.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Client) { c.authorizer = a }
}

// NewClient creates a transport client. timeout bounds each whole
// request/response cycle; pass 0 for streaming transfers that are bounded by
// context cancellation instead.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		client:    &http.Client{Timeout: timeout},
		userAgent: "tapir/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do applies rate limiting, auth and the User-Agent header, then executes the
// request. Connection-level failures come back wrapped in ErrTransport, with
// the original error kept in the chain so timeout classification still works.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrTransport, err)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.authorizer != nil {
		if err := c.authorizer.Authorize(req); err != nil {
			return nil, errors.Wrap(err, "failed to authorize request")
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrTransport, err)
	}
	return resp, nil
}

// Get issues a GET request. extraHeaders may carry e.g. a Range header.
func (c *Client) Get(ctx context.Context, rawURL string, extraHeaders map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	return c.Do(req)
}

// Head issues a HEAD request, used for verification without transfer.
func (c *Client) Head(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	return c.Do(req)
}

// PostForm issues an application/x-www-form-urlencoded POST.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(req)
}

// PostMultipart issues a POST with a prepared multipart body. contentType
// must be the writer's FormDataContentType.
func (c *Client) PostMultipart(ctx context.Context, rawURL, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	return c.Do(req)
}

// IsTimeout reports whether err was caused by a deadline rather than a
// refusal, so submission timeouts can be classified separately.
func IsTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyStatus maps an unexpected response status onto the error taxonomy.
// Callers handle their expected codes first and fall through to this.
func ClassifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Wrapf(errors.ErrAuthenticationFailed, "server returned %d", code)
	case code >= 500:
		return errors.Wrapf(errors.ErrTransport, "server returned %d", code)
	default:
		return errors.Wrapf(errors.ErrDownloadFailed, "unexpected status code: %d", code)
	}
}
