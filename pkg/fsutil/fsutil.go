// Package fsutil holds filesystem helpers and the permission modes used
// throughout tapir.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// Permission modes.
const (
	// FileModeDefault is the mode for regular files (-rw-r--r--).
	FileModeDefault = 0o644
	// FileModeSecure is the mode for sensitive files (-rw-r-----).
	FileModeSecure = 0o640
	// DirModeDefault is the mode for directories (drwxr-xr-x).
	DirModeDefault = 0o755
	// DirModeSecure is the mode for sensitive directories (drwxr-x---).
	DirModeSecure = 0o750
	// DirModePrivate is the mode for private directories (drwx------).
	DirModePrivate = 0o700
)

// AppName is the name used in user cache/data paths.
const AppName = "tapir"

// GetCacheDir returns the platform cache directory for tapir,
// e.g. ~/.cache/tapir on Linux.
func GetCacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, AppName), nil
}

// Move moves a file from src to dst, preferring an atomic rename and falling
// back to copy+delete across filesystem boundaries.
func Move(src, dst string) error {
	if src == "" || dst == "" {
		return fmt.Errorf("source and destination paths cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dst), DirModeSecure); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDeviceError(err) {
		return fmt.Errorf("failed to rename %s to %s: %w", src, dst, err)
	}
	return copyAndRemove(src, dst)
}

// isCrossDeviceError reports whether a rename failed because src and dst live
// on different filesystems (EXDEV).
func isCrossDeviceError(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		if errno, ok := linkErr.Err.(syscall.Errno); ok {
			return errno == syscall.EXDEV
		}
	}
	return false
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FileModeSecure)
	if err != nil {
		return fmt.Errorf("failed to create destination %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return os.Remove(src)
}
