package uws

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virgo-archive/tapir/pkg/model"
)

const sampleJobDoc = `<?xml version="1.0" encoding="UTF-8"?>
<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0" xmlns:xlink="http://www.w3.org/1999/xlink">
  <uws:jobId>job-7</uws:jobId>
  <uws:phase>COMPLETED</uws:phase>
  <uws:results>
    <uws:result id="result" xlink:href="http://archive.example.org/data/7" mime-type="application/x-votable+xml" size="2048"/>
    <uws:result id="preview" xlink:href="http://archive.example.org/preview/7"/>
  </uws:results>
</uws:job>`

func TestParseJobDocument(t *testing.T) {
	doc, err := parseJobDocument(strings.NewReader(sampleJobDoc))
	require.NoError(t, err)

	assert.Equal(t, "job-7", doc.JobID)
	assert.Equal(t, "COMPLETED", doc.Phase)

	refs := doc.resultRefs()
	require.Len(t, refs, 2)
	assert.Equal(t, "http://archive.example.org/data/7", refs[0].URL)
	assert.Equal(t, "application/x-votable+xml", refs[0].MediaType)
	assert.Equal(t, int64(2048), refs[0].Size)
	// An undeclared size is unknown, not zero.
	assert.Equal(t, model.SizeUnknown, refs[1].Size)

	assert.Empty(t, doc.errorMessage())
}

func TestParseJobDocumentErrorSummary(t *testing.T) {
	raw := `<job>
  <jobId>job-9</jobId>
  <phase>ERROR</phase>
  <errorSummary type="fatal"><message>column "raa" does not exist</message></errorSummary>
</job>`
	doc, err := parseJobDocument(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "ERROR", doc.Phase)
	assert.Equal(t, `column "raa" does not exist`, doc.errorMessage())
	assert.Empty(t, doc.resultRefs())
}

func TestParseJobDocumentGarbage(t *testing.T) {
	_, err := parseJobDocument(strings.NewReader("not xml at all"))
	assert.Error(t, err)
}

func TestOverflowFlag(t *testing.T) {
	assert.Nil(t, overflowFlag(""))

	for _, v := range []string{"true", "TRUE", "1", "yes"} {
		flag := overflowFlag(v)
		require.NotNil(t, flag, "header %q", v)
		assert.True(t, *flag)
	}
	for _, v := range []string{"false", "0", "no", "whatever"} {
		flag := overflowFlag(v)
		require.NotNil(t, flag, "header %q", v)
		assert.False(t, *flag)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 4, p.attempts())
	assert.Greater(t, p.backoff(2), p.backoff(1))

	var zero RetryPolicy
	assert.Equal(t, 1, zero.attempts())
	assert.Zero(t, zero.backoff(1))
}
