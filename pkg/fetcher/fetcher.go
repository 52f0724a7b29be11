// Package fetcher resolves a completed job's result references and opens
// their byte streams. Small synchronous results are served from memory;
// everything else goes through the cached downloader so bulk products stay
// resumable.
//
//go:generate mockgen -destination=./mocks/fetcher.go . Downloader
package fetcher

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/virgo-archive/tapir/pkg/download"
	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/model"
)

// DefaultInlineThreshold is the size below which a sync result skips the
// cache. Interactive queries should not pay cache bookkeeping for a few
// kilobytes of table.
const DefaultInlineThreshold int64 = 4 << 20

// Downloader is the slice of the download manager the fetcher needs.
type Downloader interface {
	Fetch(ctx context.Context, req download.Request) (*download.Entry, error)
}

// Fetcher turns result references into byte streams.
type Fetcher struct {
	dl              Downloader
	inlineThreshold int64
}

// New creates a fetcher. A non-positive inlineThreshold selects the default.
func New(dl Downloader, inlineThreshold int64) *Fetcher {
	if inlineThreshold <= 0 {
		inlineThreshold = DefaultInlineThreshold
	}
	return &Fetcher{dl: dl, inlineThreshold: inlineThreshold}
}

// Resolve returns the result references of a completed job. Archives may
// stage several files per logical result; the order is the server's.
func (f *Fetcher) Resolve(job *model.Job) ([]model.ResultRef, error) {
	if job.Phase != model.PhaseCompleted {
		return nil, errors.Wrapf(errors.ErrJobFailed, "job %s is %s, results unavailable", job.ID, job.Phase)
	}
	return job.Results, nil
}

// Open returns the result's byte stream. Inline results below the threshold
// are served from memory without touching the cache; everything else is
// fetched (or reused) through the downloader and read from local storage.
func (f *Fetcher) Open(ctx context.Context, ref model.ResultRef) (io.ReadCloser, error) {
	if ref.Inlined() && ref.Size <= f.inlineThreshold {
		return io.NopCloser(bytes.NewReader(ref.Inline)), nil
	}
	if ref.URL == "" {
		// Oversized inline result: nothing to re-fetch, serve what we hold.
		if ref.Inlined() {
			return io.NopCloser(bytes.NewReader(ref.Inline)), nil
		}
		return nil, errors.Wrap(errors.ErrDownloadFailed, "result reference has no URL")
	}

	entry, err := f.Stage(ctx, ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(entry.LocalPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not open cached result")
	}
	return file, nil
}

// Stage ensures the referenced result is present in the local cache and
// returns its entry.
func (f *Fetcher) Stage(ctx context.Context, ref model.ResultRef) (*download.Entry, error) {
	req := download.Request{
		URL:  ref.URL,
		ETag: ref.ETag,
	}
	if ref.Size > 0 {
		req.ExpectedSize = ref.Size
	}
	return f.dl.Fetch(ctx, req)
}
