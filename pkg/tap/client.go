// Package tap composes the engine pieces into a client for one archive
// service: session auth, job submission and polling, result staging and the
// resilient cache underneath.
package tap

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/virgo-archive/tapir/pkg/auth"
	"github.com/virgo-archive/tapir/pkg/config"
	"github.com/virgo-archive/tapir/pkg/download"
	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/fetcher"
	"github.com/virgo-archive/tapir/pkg/hook"
	"github.com/virgo-archive/tapir/pkg/model"
	"github.com/virgo-archive/tapir/pkg/transport"
	"github.com/virgo-archive/tapir/pkg/uws"
)

// Client is the composed archive client.
type Client struct {
	baseURL  string
	settings config.Settings

	http *transport.Client
	auth *auth.Manager
	jobs *uws.Client
	dl   *download.Manager
	res  *fetcher.Fetcher

	capMu sync.Mutex
	caps  *Capabilities
}

// Options carry the optional collaborators.
type Options struct {
	// SecretStore persists credentials between runs; nil disables persistence.
	SecretStore auth.SecretStore

	// Hooks run user scripts around transfers; nil disables them.
	Hooks hook.Executor

	// Retry overrides the default poll retry policy.
	Retry *uws.RetryPolicy

	// CacheDir overrides the settings' cache root (must be absolute).
	CacheDir string
}

// New builds a client for the service at baseURL using the given settings.
func New(baseURL string, settings config.Settings, static auth.Authenticator, opts Options) (*Client, error) {
	base := strings.TrimRight(baseURL, "/")

	authMgr := auth.NewManager(base+"/login", base+"/logout", settings.HTTPTimeout, opts.SecretStore)
	stamp := &authorizer{sessions: authMgr, static: static}

	common := []transport.Option{
		transport.WithAuthorizer(stamp),
		transport.WithUserAgent(settings.UserAgent),
		transport.WithRateLimit(settings.RateLimit, 1),
	}
	// Protocol calls are bounded by the request timeout; bulk transfers run
	// until done or cancelled.
	protoHTTP := transport.NewClient(settings.HTTPTimeout, common...)
	bulkHTTP := transport.NewClient(0, common...)

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = settings.CacheDir
	}
	dlOpts := []download.Option{
		download.WithVerifyOnly(settings.VerifyOnly),
		download.WithExtract(settings.ExtractArchives),
	}
	if opts.Hooks != nil {
		dlOpts = append(dlOpts, download.WithHooks(opts.Hooks))
	}
	dl, err := download.NewManager(cacheDir, bulkHTTP, dlOpts...)
	if err != nil {
		return nil, err
	}

	retry := uws.DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	return &Client{
		baseURL:  base,
		settings: settings,
		http:     protoHTTP,
		auth:     authMgr,
		jobs:     uws.NewClient(protoHTTP, base, retry),
		dl:       dl,
		res:      fetcher.New(dl, settings.InlineThreshold),
	}, nil
}

// authorizer prefers the live session and falls back to statically configured
// credentials.
type authorizer struct {
	sessions *auth.Manager
	static   auth.Authenticator
}

func (a *authorizer) Authorize(req *http.Request) error {
	if a.sessions.IsAuthenticated() {
		return a.sessions.Authorize(req)
	}
	if a.static != nil {
		return a.static.Apply(req)
	}
	return nil
}

// Login authenticates against the service.
func (c *Client) Login(ctx context.Context, principal, secret string) (*auth.Session, error) {
	return c.auth.Login(ctx, auth.Credential{Principal: principal, Secret: secret})
}

// Logout invalidates the current session.
func (c *Client) Logout(ctx context.Context) error {
	return c.auth.Logout(ctx)
}

// IsAuthenticated reports whether a live session exists.
func (c *Client) IsAuthenticated() bool {
	return c.auth.IsAuthenticated()
}

// QueryOptions shape one submission.
type QueryOptions struct {
	Language     string
	OutputFormat string
	RowLimit     int64
	Upload       *model.UploadTable
	UploadName   string
}

// QuerySync submits a synchronous query. The returned job is already
// terminal and its single result is held inline. Note the server enforces a
// row ceiling on this path and may truncate silently; Job.Truncated carries
// the server's signal when one is given.
func (c *Client) QuerySync(ctx context.Context, query string, opts QueryOptions) (*model.Job, error) {
	return c.jobs.Submit(ctx, uws.Query{
		Text:         query,
		Language:     opts.Language,
		Mode:         model.ModeSync,
		OutputFormat: opts.OutputFormat,
		RowLimit:     opts.RowLimit,
		Upload:       opts.Upload,
		UploadName:   opts.UploadName,
	})
}

// QueryAsync submits an asynchronous query and returns immediately with the
// job handle. The service must speak a protocol version that has the async
// endpoint.
func (c *Client) QueryAsync(ctx context.Context, query string, opts QueryOptions) (*model.Job, error) {
	if err := c.ensureAsync(ctx); err != nil {
		return nil, err
	}
	return c.jobs.Submit(ctx, uws.Query{
		Text:         query,
		Language:     opts.Language,
		Mode:         model.ModeAsync,
		OutputFormat: opts.OutputFormat,
		RowLimit:     opts.RowLimit,
		Upload:       opts.Upload,
		UploadName:   opts.UploadName,
	})
}

// Wait blocks until the job is terminal, polling at the configured interval
// and honoring the configured overall deadline.
func (c *Client) Wait(ctx context.Context, job *model.Job) (*model.Job, error) {
	return c.jobs.WaitUntilTerminal(ctx, job, c.settings.PollInterval, c.settings.MaxWait)
}

// Poll refreshes the job once.
func (c *Client) Poll(ctx context.Context, job *model.Job) (*model.Job, error) {
	return c.jobs.Poll(ctx, job)
}

// Abort requests server-side cancellation of the job.
func (c *Client) Abort(ctx context.Context, job *model.Job) (*model.Job, error) {
	return c.jobs.Abort(ctx, job)
}

// Remove deletes the job server-side.
func (c *Client) Remove(ctx context.Context, job *model.Job) error {
	return c.jobs.Remove(ctx, job)
}

// Results returns the completed job's result references.
func (c *Client) Results(ctx context.Context, job *model.Job) ([]model.ResultRef, error) {
	return c.jobs.FetchResults(ctx, job)
}

// Open returns the byte stream for one result reference.
func (c *Client) Open(ctx context.Context, ref model.ResultRef) (io.ReadCloser, error) {
	return c.res.Open(ctx, ref)
}

// DownloadResults stages every result of a completed job into the cache and
// returns per-result outcomes. One failed transfer does not cancel its
// siblings.
func (c *Client) DownloadResults(ctx context.Context, job *model.Job) ([]download.Outcome, error) {
	refs, err := c.Results(ctx, job)
	if err != nil {
		return nil, err
	}
	reqs := make([]download.Request, 0, len(refs))
	for _, ref := range refs {
		if ref.URL == "" {
			continue
		}
		req := download.Request{URL: ref.URL, ETag: ref.ETag}
		if ref.Size > 0 {
			req.ExpectedSize = ref.Size
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return nil, errors.Wrap(errors.ErrDownloadFailed, "job has no downloadable results")
	}
	return c.dl.FetchAll(ctx, reqs, download.FetchAllOptions{
		MaxParallel: c.settings.MaxParallelDownloads,
	})
}

// Download performs a direct stage-and-download of arbitrary product URLs.
func (c *Client) Download(ctx context.Context, urls []string) ([]download.Outcome, error) {
	reqs := make([]download.Request, len(urls))
	for i, u := range urls {
		reqs[i] = download.Request{URL: u}
	}
	return c.dl.FetchAll(ctx, reqs, download.FetchAllOptions{
		MaxParallel: c.settings.MaxParallelDownloads,
	})
}

// Verify re-checks the cached copy of one product URL against the live server
// without transferring anything.
func (c *Client) Verify(ctx context.Context, url string) (*download.Entry, bool, error) {
	return c.dl.Verify(ctx, download.Request{URL: url})
}

// Cache exposes the download manager for cache maintenance.
func (c *Client) Cache() *download.Manager { return c.dl }
