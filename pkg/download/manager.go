// Package download is the resumable, cache-aware bulk transfer engine. It
// deduplicates by content identity, resumes partial transfers with range
// requests, verifies completed entries against the live server and never
// downloads the same artifact twice.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/virgo-archive/tapir/internal/logger"
	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/fsutil"
	"github.com/virgo-archive/tapir/pkg/hook"
	"github.com/virgo-archive/tapir/pkg/transport"
)

// copyChunkSize is the transfer granularity; bytes_written is persisted after
// every chunk.
const copyChunkSize = 256 * 1024

// Request describes one artifact to fetch.
type Request struct {
	URL string

	// ExpectedSize is the declared length when the caller knows it, else 0.
	ExpectedSize int64

	// ETag, when known, becomes part of the cache key.
	ETag string

	// DestHint is an optional friendly filename recorded in the entry
	// metadata. It never affects content identity.
	DestHint string

	// Force discards any complete cached copy and re-transfers.
	Force bool
}

// Manager implements the cached downloader over one cache root directory.
type Manager struct {
	dir        string
	client     *transport.Client
	hooks      hook.Executor
	verifyOnly bool
	extract    bool

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithHooks attaches a hook executor run around transfers.
func WithHooks(h hook.Executor) Option {
	return func(m *Manager) { m.hooks = h }
}

// WithVerifyOnly routes Fetch calls to Verify: check freshness against the
// server without transferring anything.
func WithVerifyOnly(v bool) Option {
	return func(m *Manager) { m.verifyOnly = v }
}

// WithExtract unpacks recognized archive deliveries next to the cache entry
// after a completed transfer.
func WithExtract(v bool) Option {
	return func(m *Manager) { m.extract = v }
}

// NewManager creates a download manager rooted at dir, which must be an
// absolute path and is created if missing.
func NewManager(dir string, client *transport.Client, opts ...Option) (*Manager, error) {
	if dir == "" || !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("cache dir must be absolute: %w: %s", errors.ErrInvalidPath, dir)
	}
	if err := os.MkdirAll(dir, fsutil.DirModeSecure); err != nil {
		return nil, errors.Wrap(err, "could not create cache dir")
	}
	m := &Manager{dir: dir, client: client}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the cache root directory.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) dataPath(key string) string { return filepath.Join(m.dir, key) }
func (m *Manager) metaPath(key string) string { return filepath.Join(m.dir, key+".meta.yaml") }

// Fetch retrieves one artifact into the cache and returns its entry.
//
// Identical concurrent requests share a single transfer: access to a key is
// serialized through a singleflight group, so two callers racing on one URL
// both observe the one transfer's outcome and never write the same file
// twice. A complete, size-consistent entry is returned without issuing any
// request unless the caller forces a re-fetch.
func (m *Manager) Fetch(ctx context.Context, req Request) (*Entry, error) {
	if req.URL == "" {
		return nil, errors.Wrap(errors.ErrDownloadFailed, "empty URL")
	}
	key := Key(req.URL, req.ETag)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.fetchOne(ctx, key, req)
	})
	entry, _ := v.(*Entry)
	return entry, err
}

func (m *Manager) fetchOne(ctx context.Context, key string, req Request) (*Entry, error) {
	entry := m.loadEntry(key, req)

	if m.verifyOnly {
		ok, err := m.verify(ctx, entry)
		if err != nil {
			return entry, err
		}
		if !ok {
			return entry, errors.Wrapf(errors.ErrIntegrity, "%s did not verify against the server", req.URL)
		}
		return entry, nil
	}

	if entry.Complete() && !req.Force {
		if req.ExpectedSize <= 0 || req.ExpectedSize == entry.BytesWritten {
			return entry, nil
		}
		logger.Warn("Cached entry size disagrees with caller expectation; re-fetching",
			logger.Fields{"key": key, "cached": entry.BytesWritten, "expected": req.ExpectedSize})
		req.Force = true
	}
	if req.Force {
		_ = os.Remove(entry.LocalPath)
		entry.BytesWritten = 0
		entry.State = StateAbsent
	}

	if m.hooks != nil {
		if err := m.hooks.Execute(hook.PreFetch, m.hookContext(entry)); err != nil {
			return entry, err
		}
	}

	if err := m.transfer(ctx, entry, req); err != nil {
		return entry, err
	}

	if m.hooks != nil {
		if err := m.hooks.Execute(hook.PostFetch, m.hookContext(entry)); err != nil {
			return entry, err
		}
	}
	if m.extract {
		if err := m.extractEntry(ctx, entry); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

// transfer moves the remote bytes onto disk, resuming a partial entry with a
// range request when possible. A server that ignores the range answers 200;
// the partial data is then discarded and the transfer restarts from zero
// rather than risking a spliced file.
func (m *Manager) transfer(ctx context.Context, entry *Entry, req Request) error {
	offset := int64(0)
	if entry.State == StatePartial && entry.BytesWritten > 0 {
		offset = entry.BytesWritten
	}

	headers := map[string]string{}
	if offset > 0 {
		headers["Range"] = fmt.Sprintf("bytes=%d-", offset)
	}
	resp, err := m.client.Get(ctx, req.URL, headers)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %s", req.URL)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		logger.Debug("Resuming transfer", logger.Fields{"key": entry.Key, "offset": offset})
	case http.StatusOK:
		if offset > 0 {
			logger.Debug("Server ignored range request; restarting from zero", logger.Fields{"key": entry.Key})
		}
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file is at least as long as the resource now is; it
		// cannot be trusted either way.
		offset = 0
		_ = resp.Body.Close()
		resp, err = m.client.Get(ctx, req.URL, nil)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch %s", req.URL)
		}
		if resp.StatusCode != http.StatusOK {
			return transport.ClassifyStatus(resp.StatusCode)
		}
	default:
		return transport.ClassifyStatus(resp.StatusCode)
	}

	declared := declaredSize(resp, offset, req.ExpectedSize)
	entry.DeclaredSize = declared
	if etag := resp.Header.Get("ETag"); etag != "" && entry.ETag == "" {
		entry.ETag = etag
	}

	if err := m.writeBody(ctx, entry, resp.Body, offset); err != nil {
		return err
	}

	entry.FetchedAt = time.Now()
	if entry.DeclaredSize > 0 && entry.BytesWritten != entry.DeclaredSize {
		entry.State = StatePartial
		_ = m.persist(entry)
		return errors.Wrapf(errors.ErrIntegrity, "%s: wrote %d of %d declared bytes",
			req.URL, entry.BytesWritten, entry.DeclaredSize)
	}
	entry.State = StateComplete
	if err := m.persist(entry); err != nil {
		return err
	}
	logger.Debug("Transfer complete", logger.Fields{"key": entry.Key, "bytes": entry.BytesWritten})
	return nil
}

// declaredSize works out the full resource length from the response and the
// caller's expectation. Content-Length on a 206 covers the remainder only.
func declaredSize(resp *http.Response, offset, expected int64) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if total := contentRangeTotal(resp.Header.Get("Content-Range")); total > 0 {
			return total
		}
		if resp.ContentLength > 0 {
			return offset + resp.ContentLength
		}
	} else if resp.ContentLength > 0 {
		return resp.ContentLength
	}
	return expected
}

func contentRangeTotal(header string) int64 {
	// Content-Range: bytes <start>-<end>/<total>
	for i := len(header) - 1; i >= 0; i-- {
		if header[i] == '/' {
			total, err := strconv.ParseInt(header[i+1:], 10, 64)
			if err != nil {
				return 0
			}
			return total
		}
	}
	return 0
}

// writeBody streams the response to disk in chunks, never buffering the whole
// file, persisting progress after every chunk and honoring cancellation
// between chunks. A cancelled transfer leaves a resumable partial entry.
func (m *Manager) writeBody(ctx context.Context, entry *Entry, body io.Reader, offset int64) error {
	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(entry.LocalPath, flags, fsutil.FileModeSecure)
	if err != nil {
		return errors.Wrap(err, "could not open cache file")
	}
	defer func() { _ = f.Close() }()
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return errors.Wrap(err, "could not seek to resume offset")
		}
	}

	entry.BytesWritten = offset
	entry.State = StatePartial
	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			_ = m.persist(entry)
			return err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				_ = m.persist(entry)
				return errors.Wrap(werr, "could not write cache file")
			}
			entry.BytesWritten += int64(n)
			if perr := m.persist(entry); perr != nil {
				return perr
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = m.persist(entry)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(errors.ErrTransport, "transfer interrupted: %v", readErr)
		}
	}
	return errors.Wrap(f.Sync(), "could not sync cache file")
}

// Verify re-checks a completed entry against the live server without
// transferring: a HEAD request's declared size (and ETag, when both sides
// have one) must match the local bytes. A passing check upgrades the entry to
// verified; a failing one discards the local bytes so the next fetch
// re-transfers from zero. The stale bytes must never seed a range resume: the
// server just proved the resource changed, and splicing a new suffix onto an
// old prefix would complete without any size mismatch to catch it.
func (m *Manager) Verify(ctx context.Context, req Request) (*Entry, bool, error) {
	key := Key(req.URL, req.ETag)
	entry := m.loadEntry(key, req)
	ok, err := m.verify(ctx, entry)
	return entry, ok, err
}

func (m *Manager) verify(ctx context.Context, entry *Entry) (bool, error) {
	if !entry.Complete() {
		return false, nil
	}
	resp, err := m.client.Head(ctx, entry.URL)
	if err != nil {
		return false, errors.Wrap(err, "verification request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, transport.ClassifyStatus(resp.StatusCode)
	}

	if resp.ContentLength > 0 && resp.ContentLength != entry.BytesWritten {
		logger.Warn("Verification failed: size mismatch",
			logger.Fields{"key": entry.Key, "local": entry.BytesWritten, "server": resp.ContentLength})
		m.discard(entry)
		return false, nil
	}
	if etag := resp.Header.Get("ETag"); etag != "" && entry.ETag != "" && etag != entry.ETag {
		logger.Warn("Verification failed: etag changed", logger.Fields{"key": entry.Key})
		m.discard(entry)
		return false, nil
	}

	entry.State = StateVerified
	if err := m.persist(entry); err != nil {
		return false, err
	}
	if m.hooks != nil {
		if err := m.hooks.Execute(hook.PostVerify, m.hookContext(entry)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// discard drops an entry's local bytes and metadata after the server proved
// them stale.
func (m *Manager) discard(entry *Entry) {
	_ = os.Remove(entry.LocalPath)
	_ = os.Remove(m.metaPath(entry.Key))
	entry.BytesWritten = 0
	entry.DeclaredSize = 0
	entry.State = StateAbsent
}

// Clear removes the entry for key. Eviction is explicit only; the engine
// never evicts on its own, big archive downloads are expensive to repeat.
func (m *Manager) Clear(key string) error {
	if err := os.Remove(m.dataPath(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove cache entry %s", key)
	}
	if err := os.Remove(m.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove cache metadata %s", key)
	}
	extractDir := m.dataPath(key) + ".d"
	if err := os.RemoveAll(extractDir); err != nil {
		return errors.Wrapf(err, "failed to remove extraction dir %s", extractDir)
	}
	return nil
}

// ClearAll empties the cache root and returns the bytes freed.
func (m *Manager) ClearAll() (int64, error) {
	freed, _, err := dirSizeAndFiles(m.dir)
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return 0, errors.Wrapf(err, "failed to remove cache dir %s", m.dir)
	}
	if err := os.MkdirAll(m.dir, fsutil.DirModeSecure); err != nil {
		return freed, errors.Wrap(err, "failed to recreate cache dir")
	}
	return freed, nil
}

// Info summarizes the cache contents for reporting.
type Info struct {
	Directory string
	TotalSize int64
	Files     int
}

// GetInfo reports the cache directory, total size and file count.
func (m *Manager) GetInfo() (*Info, error) {
	size, files, err := dirSizeAndFiles(m.dir)
	if err != nil {
		return nil, err
	}
	return &Info{Directory: m.dir, TotalSize: size, Files: files}, nil
}

func dirSizeAndFiles(dir string) (int64, int, error) {
	var size int64
	var count int
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if !info.IsDir() {
			size += info.Size()
			count++
		}
		return nil
	})
	if err != nil {
		return 0, 0, errors.Wrapf(err, "error walking cache dir %s", dir)
	}
	return size, count, nil
}

func (m *Manager) hookContext(entry *Entry) hook.Context {
	return hook.Context{
		URL:       entry.URL,
		LocalPath: entry.LocalPath,
		Size:      entry.BytesWritten,
		ETag:      entry.ETag,
	}
}
