package download

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"

	"github.com/virgo-archive/tapir/internal/logger"
	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/fsutil"
)

// extractEntry unpacks a completed archive delivery (bulk product staging
// hands out tarballs) into <entry>.d next to the cache file. Entries that are
// not recognizable archives are left alone.
func (m *Manager) extractEntry(ctx context.Context, entry *Entry) error {
	f, err := os.Open(entry.LocalPath)
	if err != nil {
		return errors.Wrap(err, "could not open cache entry for extraction")
	}
	defer func() { _ = f.Close() }()

	// Identification needs a filename with an extension; the cache file is
	// named by key, so use the recorded delivery filename.
	format, input, err := archives.Identify(ctx, entry.Filename, f)
	if err != nil {
		if stderrors.Is(err, archives.NoMatch) {
			return nil
		}
		return errors.Wrap(err, "could not identify archive format")
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil
	}

	destDir := entry.LocalPath + ".d"
	if err := os.MkdirAll(destDir, fsutil.DirModeSecure); err != nil {
		return errors.Wrap(err, "could not create extraction dir")
	}

	err = extractor.Extract(ctx, input, func(ctx context.Context, fi archives.FileInfo) error {
		return writeExtracted(destDir, fi)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to extract %s", entry.Filename)
	}
	logger.Debug("Extracted archive delivery", logger.Fields{"key": entry.Key, "dest": destDir})
	return nil
}

func writeExtracted(destDir string, fi archives.FileInfo) error {
	name := filepath.Clean(fi.NameInArchive)
	if name == "." || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
		return errors.Wrapf(errors.ErrInvalidPath, "archive member %q escapes destination", fi.NameInArchive)
	}
	target := filepath.Join(destDir, name)

	if fi.IsDir() {
		return os.MkdirAll(target, fsutil.DirModeSecure)
	}
	if err := os.MkdirAll(filepath.Dir(target), fsutil.DirModeSecure); err != nil {
		return err
	}
	src, err := fi.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fsutil.FileModeSecure)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
