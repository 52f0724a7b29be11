// Package errors defines the error taxonomy shared by all tapir packages.
// Callers classify failures with errors.Is against the sentinels below; the
// distinction that matters is "try again" vs "fix your input" vs "fix your
// credentials".
package errors

import "fmt"

// Protocol and transfer errors.
var (
	// ErrTransport marks connection-level failures. Retryable at caller discretion.
	ErrTransport = fmt.Errorf("transport failure")

	// ErrSubmissionTimeout is returned when a query submission exceeds its deadline.
	// Kept distinct from ErrTransport because submissions may have server-side
	// effects and must never be retried implicitly.
	ErrSubmissionTimeout = fmt.Errorf("submission timed out")

	// ErrAuthenticationFailed means the credentials were rejected. Not retryable
	// without new credentials.
	ErrAuthenticationFailed = fmt.Errorf("authentication failed")

	// ErrAuthServiceUnavailable means the auth endpoint could not be reached or
	// answered with a server error. Retryable.
	ErrAuthServiceUnavailable = fmt.Errorf("authentication service unavailable")

	// ErrJobFailed means the server reported the ERROR phase for a job. The
	// server's message is carried verbatim in the wrapping error. Only
	// resubmission helps; re-polling will not.
	ErrJobFailed = fmt.Errorf("job failed on server")

	// ErrJobAborted means the job reached the ABORTED phase.
	ErrJobAborted = fmt.Errorf("job aborted")

	// ErrJobNotFinished means results were requested from a job that is still
	// running. Nothing failed server-side; poll or wait further.
	ErrJobNotFinished = fmt.Errorf("job not finished")

	// ErrDeadlineExceeded is returned when polling runs past the configured max_wait.
	// The job is left in its last observed phase; it is never aborted implicitly.
	ErrDeadlineExceeded = fmt.Errorf("deadline exceeded while waiting for job")

	// ErrIntegrity means downloaded bytes do not match the declared size or
	// checksum. Retryable via a forced re-fetch.
	ErrIntegrity = fmt.Errorf("integrity check failed")

	// ErrUnsupportedTableFormat means an upload table could not be serialized.
	// Detected before any network call.
	ErrUnsupportedTableFormat = fmt.Errorf("unsupported table format")

	// ErrCacheCorruption means a local partial file disagrees with its recorded
	// metadata. The next fetch restarts from zero; this is logged, not fatal.
	ErrCacheCorruption = fmt.Errorf("cache entry corrupted")
)

// Plumbing errors.
var (
	ErrInvalidPath       = fmt.Errorf("invalid path")
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")
	ErrDownloadFailed    = fmt.Errorf("download failed")
	ErrCacheDirectory    = fmt.Errorf("invalid cache directory")
	ErrNotAuthenticated  = fmt.Errorf("not authenticated")
	ErrServiceCapability = fmt.Errorf("service capability not available")

	// Hook errors.
	ErrHookExecution = fmt.Errorf("error executing hook")
	ErrHookScript    = fmt.Errorf("hook script error")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
