// Package uws drives a remote query job through its lifecycle: submit, poll
// until terminal, expose result locations. It speaks the async job protocol
// used by TAP-style archive services and synthesizes the same Job handle for
// synchronous submissions, so callers see one contract for both modes.
package uws

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/virgo-archive/tapir/internal/logger"
	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/model"
	"github.com/virgo-archive/tapir/pkg/transport"
	"github.com/virgo-archive/tapir/pkg/upload"
)

// OverflowHeader is the response header some services set on synchronous
// results to signal that the row ceiling cut the result short. Absent header
// means "unknown", which is surfaced as such rather than silently dropped.
const OverflowHeader = "X-TAP-Overflow"

// maxErrorBody bounds how much of an error response body is kept as the
// job's error message.
const maxErrorBody = 8 * 1024

// Query is the submission payload. Text is an opaque blob produced by an
// external query builder; this package never interprets it.
type Query struct {
	Text     string
	Language string // defaults to ADQL

	Mode         model.Mode
	OutputFormat string

	// RowLimit caps the result rows (MAXREC). The synchronous endpoint
	// silently truncates at the server ceiling regardless; see OverflowHeader.
	RowLimit int64

	// Upload carries an auxiliary table referenced from the query text as
	// UPLOAD.<UploadName>. Encoding happens before submission: either the
	// whole query+upload becomes one server-side job or submission fails
	// outright.
	Upload     *model.UploadTable
	UploadName string
}

// Client is the job protocol state machine for one service endpoint.
type Client struct {
	http    *transport.Client
	baseURL string
	retry   RetryPolicy

	mu       sync.Mutex
	jobLocks map[string]*sync.Mutex
}

// NewClient creates a job client for the service at baseURL (the endpoint
// exposing /sync and /async).
func NewClient(httpClient *transport.Client, baseURL string, retry RetryPolicy) *Client {
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		retry:    retry,
		jobLocks: make(map[string]*sync.Mutex),
	}
}

// lockFor serializes polls per job: overlapping status requests for the same
// job are never in flight together.
func (c *Client) lockFor(jobID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.jobLocks[jobID]
	if !ok {
		l = &sync.Mutex{}
		c.jobLocks[jobID] = l
	}
	return l
}

func (c *Client) syncURL() string  { return c.baseURL + "/sync" }
func (c *Client) asyncURL() string { return c.baseURL + "/async" }
func (c *Client) jobURL(id string) string {
	return c.asyncURL() + "/" + url.PathEscape(id)
}

// Submit sends the query. Network failures during submission are reported and
// never retried here: a submission may have server-side effects, so retry is
// a caller decision. Timeouts come back as ErrSubmissionTimeout.
func (c *Client) Submit(ctx context.Context, q Query) (*model.Job, error) {
	if q.Mode == "" {
		q.Mode = model.ModeAsync
	}

	resp, err := c.post(ctx, q)
	if err != nil {
		if transport.IsTimeout(err) {
			return nil, errors.Wrap(errors.ErrSubmissionTimeout, err.Error())
		}
		return nil, errors.Wrap(err, "submission failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if q.Mode == model.ModeSync {
		return c.syncJob(q, resp)
	}
	return c.asyncJob(q, resp)
}

// post builds and sends the submission request. The body, including any
// upload table, is assembled fully before the network is touched.
func (c *Client) post(ctx context.Context, q Query) (*http.Response, error) {
	endpoint := c.asyncURL()
	if q.Mode == model.ModeSync {
		endpoint = c.syncURL()
	}

	form := url.Values{}
	form.Set("REQUEST", "doQuery")
	lang := q.Language
	if lang == "" {
		lang = "ADQL"
	}
	form.Set("LANG", lang)
	form.Set("QUERY", q.Text)
	if q.OutputFormat != "" {
		form.Set("FORMAT", q.OutputFormat)
	}
	if q.RowLimit > 0 {
		form.Set("MAXREC", strconv.FormatInt(q.RowLimit, 10))
	}
	if q.Mode == model.ModeAsync {
		form.Set("PHASE", "RUN")
	}

	if q.Upload == nil {
		return c.http.PostForm(ctx, endpoint, form)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, vals := range form {
		for _, v := range vals {
			if err := mw.WriteField(key, v); err != nil {
				return nil, errors.Wrap(err, "failed to build submission body")
			}
		}
	}
	if err := upload.Encode(mw, q.Upload, q.UploadName); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finish submission body")
	}
	return c.http.PostMultipart(ctx, endpoint, mw.FormDataContentType(), &buf)
}

// syncJob turns a synchronous response into a terminal Job. The body IS the
// result; the row ceiling is server-enforced, which keeps it small enough to
// hold in memory.
func (c *Client) syncJob(q Query, resp *http.Response) (*model.Job, error) {
	now := time.Now()
	job := &model.Job{
		ID:           uuid.NewString(),
		Mode:         model.ModeSync,
		OutputFormat: q.OutputFormat,
		RowLimit:     q.RowLimit,
		SubmittedAt:  now,
		LastPolledAt: now,
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, transport.ClassifyStatus(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		job.Phase = model.PhaseError
		job.ErrorMessage = strings.TrimSpace(string(msg))
		return job, errors.Wrapf(errors.ErrJobFailed, "%s", job.ErrorMessage)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, err.Error())
	}
	job.Phase = model.PhaseCompleted
	job.Truncated = overflowFlag(resp.Header.Get(OverflowHeader))
	job.Results = []model.ResultRef{{
		MediaType: resp.Header.Get("Content-Type"),
		Size:      int64(len(body)),
		ETag:      resp.Header.Get("ETag"),
		Inline:    body,
	}}
	if job.Truncated == nil && q.RowLimit > 0 {
		logger.Debug("Sync result carries no overflow signal; truncation unknown",
			logger.Fields{"job": job.ID, "row_limit": q.RowLimit})
	}
	return job, nil
}

func overflowFlag(header string) *bool {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "":
		return nil
	case "true", "1", "yes":
		v := true
		return &v
	default:
		v := false
		return &v
	}
}

// asyncJob parses the job document returned (directly or via redirect) by an
// async submission.
func (c *Client) asyncJob(q Query, resp *http.Response) (*model.Job, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, transport.ClassifyStatus(resp.StatusCode)
	}
	doc, err := parseJobDocument(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "submission returned unreadable job document")
	}
	id := doc.JobID
	if id == "" && resp.Request != nil && resp.Request.URL != nil {
		// Some services answer the redirected GET with a bare document and
		// leave the id in the final URL.
		parts := strings.Split(strings.TrimRight(resp.Request.URL.Path, "/"), "/")
		id = parts[len(parts)-1]
	}
	if id == "" {
		return nil, errors.Wrap(errors.ErrTransport, "server did not assign a job id")
	}

	now := time.Now()
	job := &model.Job{
		ID:           id,
		Mode:         model.ModeAsync,
		Phase:        model.ParsePhase(doc.Phase),
		OutputFormat: q.OutputFormat,
		RowLimit:     q.RowLimit,
		SubmittedAt:  now,
		LastPolledAt: now,
		Results:      doc.resultRefs(),
		ErrorMessage: doc.errorMessage(),
	}
	if job.Phase == model.PhaseUnknown {
		logger.Warn("Server reported unrecognized job phase", logger.Fields{"job": id, "phase": doc.Phase})
	}
	return job, nil
}

// Poll refreshes the job's phase, results and error message from the server.
// Terminal jobs are immutable: polling one issues no request. Phases only
// move forward; a server answer that would move the phase backward is logged
// and discarded.
func (c *Client) Poll(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job.Terminal() {
		return job, nil
	}
	if job.Mode == model.ModeSync {
		return job, nil
	}

	l := c.lockFor(job.ID)
	l.Lock()
	defer l.Unlock()
	if job.Terminal() {
		return job, nil
	}

	resp, err := c.http.Get(ctx, c.jobURL(job.ID), nil)
	if err != nil {
		return job, errors.Wrap(err, "poll failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		// Server-side expiry. Terminal; the caller treats it like an error.
		job.Phase = model.PhaseUnknown
		job.ErrorMessage = "job no longer exists on server"
		job.LastPolledAt = time.Now()
		return job, nil
	case resp.StatusCode >= 500:
		return job, errors.Wrapf(errors.ErrTransport, "poll returned %d", resp.StatusCode)
	default:
		return job, transport.ClassifyStatus(resp.StatusCode)
	}

	doc, err := parseJobDocument(resp.Body)
	if err != nil {
		return job, errors.Wrap(errors.ErrTransport, err.Error())
	}

	phase := model.ParsePhase(doc.Phase)
	if phase == model.PhaseUnknown && doc.Phase != "" {
		logger.Warn("Unrecognized job phase", logger.Fields{"job": job.ID, "phase": doc.Phase})
	}
	if phase.Rank() < job.Phase.Rank() {
		logger.Warn("Server reported backward phase movement; keeping current phase",
			logger.Fields{"job": job.ID, "have": job.Phase, "got": phase})
	} else {
		job.Phase = phase
		job.Results = doc.resultRefs()
		job.ErrorMessage = doc.errorMessage()
	}
	job.LastPolledAt = time.Now()
	return job, nil
}

// WaitUntilTerminal polls at the given interval until the job reaches a
// terminal phase. Transient poll failures are retried per the client's
// RetryPolicy; a job-reported ERROR is terminal and never retried. A maxWait
// of 0 means no deadline; exceeding a deadline returns ErrDeadlineExceeded
// with the job left in its last known phase, never aborted implicitly.
func (c *Client) WaitUntilTerminal(ctx context.Context, job *model.Job, interval, maxWait time.Duration) (*model.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	var deadline time.Time
	if maxWait > 0 {
		deadline = time.Now().Add(maxWait)
	}

	for {
		if err := ctx.Err(); err != nil {
			return job, err
		}
		if job.Terminal() {
			return job, TerminalError(job)
		}

		if err := c.pollWithRetry(ctx, job); err != nil {
			return job, err
		}
		if job.Terminal() {
			return job, TerminalError(job)
		}

		if !deadline.IsZero() && time.Now().Add(interval).After(deadline) {
			return job, errors.Wrapf(errors.ErrDeadlineExceeded, "job %s still %s after %s", job.ID, job.Phase, maxWait)
		}
		if err := sleep(ctx, interval); err != nil {
			return job, err
		}
	}
}

// pollWithRetry retries transient poll failures with backoff. Only transport
// classified failures are retried: "could not check status" is retryable,
// everything the server said about the job is not.
func (c *Client) pollWithRetry(ctx context.Context, job *model.Job) error {
	var err error
	for attempt := 1; attempt <= c.retry.attempts(); attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, c.retry.backoff(attempt-1)); serr != nil {
				return serr
			}
			logger.Debug("Retrying job poll", logger.Fields{"job": job.ID, "attempt": attempt})
		}
		_, err = c.Poll(ctx, job)
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, errors.ErrTransport) {
			return err
		}
	}
	return errors.Wrapf(err, "poll retries exhausted after %d attempts", c.retry.attempts())
}

// FetchResults returns the job's result references. The job must have
// completed: failed or aborted jobs return their terminal error, and a job
// that is still running reports ErrJobNotFinished.
func (c *Client) FetchResults(ctx context.Context, job *model.Job) ([]model.ResultRef, error) {
	if !job.Terminal() {
		if _, err := c.Poll(ctx, job); err != nil {
			return nil, err
		}
	}
	if job.Phase != model.PhaseCompleted {
		if err := TerminalError(job); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(errors.ErrJobNotFinished, "job %s is %s, not completed", job.ID, job.Phase)
	}
	return job.Results, nil
}

// Abort requests server-side cancellation. It is always an explicit caller
// action; nothing in this package calls it implicitly.
func (c *Client) Abort(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job.Mode == model.ModeSync {
		return job, errors.Wrap(errors.ErrJobFailed, "synchronous jobs cannot be aborted")
	}
	if job.Terminal() {
		return job, nil
	}

	form := url.Values{}
	form.Set("PHASE", "ABORT")
	resp, err := c.http.PostForm(ctx, c.jobURL(job.ID)+"/phase", form)
	if err != nil {
		return job, errors.Wrap(err, "abort failed")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return job, transport.ClassifyStatus(resp.StatusCode)
	}
	return c.Poll(ctx, job)
}

// Remove deletes the job server-side. Removal is only trusted when the
// server confirms it with a success status.
func (c *Client) Remove(ctx context.Context, job *model.Job) error {
	if job.Mode == model.ModeSync {
		return nil
	}
	resp, err := c.http.Delete(ctx, c.jobURL(job.ID))
	if err != nil {
		return errors.Wrap(err, "remove failed")
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusSeeOther:
		return nil
	default:
		return errors.Wrapf(errors.ErrTransport, "server did not confirm removal: %d", resp.StatusCode)
	}
}

// TerminalError maps a terminal phase to its caller-visible error: nil for
// COMPLETED, ErrJobAborted for ABORTED, ErrJobFailed (carrying the server's
// message verbatim) for ERROR and UNKNOWN.
func TerminalError(job *model.Job) error {
	switch job.Phase {
	case model.PhaseCompleted:
		return nil
	case model.PhaseAborted:
		return errors.Wrapf(errors.ErrJobAborted, "job %s", job.ID)
	case model.PhaseError:
		return errors.Wrapf(errors.ErrJobFailed, "%s", job.ErrorMessage)
	case model.PhaseUnknown:
		return errors.Wrapf(errors.ErrJobFailed, "job %s in unrecognized phase: %s", job.ID, job.ErrorMessage)
	default:
		return fmt.Errorf("job %s is not terminal (%s)", job.ID, job.Phase)
	}
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
