package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	wrapped := Wrap(ErrTransport, "poll failed")
	assert.True(t, stderrors.Is(wrapped, ErrTransport))
	assert.Equal(t, "poll failed: transport failure", wrapped.Error())

	assert.NoError(t, Wrap(nil, "ignored"))
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrJobFailed, "job %s", "job-42")
	assert.True(t, stderrors.Is(wrapped, ErrJobFailed))
	assert.Equal(t, "job job-42: job failed on server", wrapped.Error())

	assert.NoError(t, Wrapf(nil, "ignored %d", 1))
}

func TestSentinelsAreDistinct(t *testing.T) {
	// Callers classify with errors.Is; the sentinels that drive different
	// recovery paths must never alias each other.
	assert.False(t, stderrors.Is(ErrSubmissionTimeout, ErrTransport))
	assert.False(t, stderrors.Is(ErrAuthenticationFailed, ErrAuthServiceUnavailable))
	assert.False(t, stderrors.Is(ErrJobFailed, ErrJobAborted))
	assert.False(t, stderrors.Is(ErrIntegrity, ErrCacheCorruption))
}

func TestNestedWrapPreservesSentinel(t *testing.T) {
	inner := Wrapf(ErrIntegrity, "wrote %d of %d bytes", 10, 20)
	outer := Wrap(inner, "fetch failed")
	assert.True(t, stderrors.Is(outer, ErrIntegrity))
}
