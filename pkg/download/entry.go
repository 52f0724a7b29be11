package download

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/virgo-archive/tapir/internal/logger"
	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/fsutil"
)

// State is the lifecycle state of a cache entry.
type State string

// Cache entry states.
const (
	// StateAbsent means no local bytes exist for the key.
	StateAbsent State = "absent"
	// StatePartial means a prefix of the resource is on disk, resumable.
	StatePartial State = "partial"
	// StateComplete means the stream ended without error and, when a size was
	// declared, the byte counts match.
	StateComplete State = "complete"
	// StateVerified means an explicit integrity re-check against the server
	// has passed since the last write.
	StateVerified State = "verified"
)

// Entry is the local bookkeeping record for one downloaded artifact. The key
// is content identity (canonical URL plus server ETag when known), never the
// local path. The local path is owned exclusively by this package.
type Entry struct {
	Key      string `yaml:"key"`
	URL      string `yaml:"url"`
	ETag     string `yaml:"etag,omitempty"`
	Filename string `yaml:"filename,omitempty"`

	LocalPath string `yaml:"path"`

	// DeclaredSize is the server-declared length, or 0 when unknown.
	DeclaredSize int64 `yaml:"declared_size"`
	BytesWritten int64 `yaml:"bytes_written"`

	State     State     `yaml:"state"`
	FetchedAt time.Time `yaml:"fetched_at,omitempty"`
}

// Complete reports whether the entry holds a fully transferred artifact.
func (e *Entry) Complete() bool {
	return e.State == StateComplete || e.State == StateVerified
}

// Key derives the cache key from the canonical source URL and, when known,
// the server's ETag.
func Key(url, etag string) string {
	h := sha256.Sum256([]byte(url + "\n" + etag))
	return hex.EncodeToString(h[:])
}

// loadEntry reconstructs the entry for key from disk. The metadata sidecar is
// an optimization, not the source of truth: bytes_written is always
// re-derived from the actual file size, and a sidecar that disagrees with the
// file marks the entry corrupted, forcing a restart from zero.
func (m *Manager) loadEntry(key string, req Request) *Entry {
	entry := &Entry{
		Key:       key,
		URL:       req.URL,
		ETag:      req.ETag,
		Filename:  req.DestHint,
		LocalPath: m.dataPath(key),
		State:     StateAbsent,
	}

	st, statErr := os.Stat(entry.LocalPath)
	meta, metaErr := readSidecar(m.metaPath(key))

	if statErr != nil {
		// No data file. Any stale sidecar is dropped.
		if metaErr == nil {
			_ = os.Remove(m.metaPath(key))
		}
		return entry
	}

	actual := st.Size()
	if metaErr != nil {
		// Data without metadata: the index got lost. Rebuild a conservative
		// record from the file itself.
		entry.BytesWritten = actual
		entry.State = StatePartial
		if req.ExpectedSize > 0 && req.ExpectedSize == actual {
			entry.DeclaredSize = req.ExpectedSize
			entry.State = StateComplete
		}
		return entry
	}

	if meta.BytesWritten != actual {
		logger.Warn("Cache entry inconsistent with its metadata; restarting from zero",
			logger.Fields{"key": key, "recorded": meta.BytesWritten, "actual": actual, "err": errors.ErrCacheCorruption.Error()})
		_ = os.Remove(entry.LocalPath)
		_ = os.Remove(m.metaPath(key))
		return entry
	}

	meta.LocalPath = entry.LocalPath
	meta.BytesWritten = actual
	if meta.Filename == "" {
		meta.Filename = req.DestHint
	}
	return meta
}

func readSidecar(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to parse cache metadata")
	}
	return &entry, nil
}

// persist writes the entry's metadata sidecar. Called after every received
// chunk so a crash mid-transfer leaves a correctly accounted partial entry.
func (m *Manager) persist(entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache metadata")
	}
	return os.WriteFile(m.metaPath(entry.Key), data, fsutil.FileModeSecure)
}
