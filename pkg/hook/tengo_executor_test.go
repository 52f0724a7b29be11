package hook

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virgo-archive/tapir/pkg/errors"
)

func TestExecuteMissingScriptIsNoOp(t *testing.T) {
	e := NewTengoExecutor()
	assert.False(t, e.HasScript(PostFetch))
	assert.NoError(t, e.Execute(PostFetch, Context{}))
}

func TestExecuteSeesTransferContext(t *testing.T) {
	e := NewTengoExecutor()
	e.AddScript(PostVerify, `
err := ""
if url != "http://archive.example.org/p" {
	err = "wrong url"
}
if etag != "W/\"v2\"" {
	err = "wrong etag"
}
if size != 1024 {
	err = "wrong size"
}`)

	err := e.Execute(PostVerify, Context{
		URL:       "http://archive.example.org/p",
		LocalPath: "/cache/abc",
		Size:      1024,
		ETag:      `W/"v2"`,
	})
	assert.NoError(t, err)
}

func TestExecuteScriptReportsError(t *testing.T) {
	e := NewTengoExecutor()
	e.AddScript(PreFetch, `err := "disk quota exceeded"`)

	err := e.Execute(PreFetch, Context{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrHookScript))
	assert.Contains(t, err.Error(), "disk quota exceeded")
}

func TestExecuteEmptyErrMeansSuccess(t *testing.T) {
	e := NewTengoExecutor()
	e.AddScript(PostFetch, `err := ""`)
	assert.NoError(t, e.Execute(PostFetch, Context{}))
}

func TestExecuteBrokenScript(t *testing.T) {
	e := NewTengoExecutor()
	e.AddScript(PostFetch, `this is not tengo ((`)

	err := e.Execute(PostFetch, Context{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrHookExecution))
}

func TestExecuteWithStdlibModule(t *testing.T) {
	e := NewTengoExecutor()
	e.AddScript(PostFetch, `
text := import("text")
err := ""
if !text.has_prefix(localPath, "/cache/") {
	err = "unexpected path"
}`)
	assert.NoError(t, e.Execute(PostFetch, Context{LocalPath: "/cache/abc"}))
}

func TestExtraVars(t *testing.T) {
	e := NewTengoExecutor()
	e.AddScript(PreFetch, `
err := ""
if attempt != 3 {
	err = "wrong attempt"
}`)
	err := e.Execute(PreFetch, Context{Vars: map[string]interface{}{"attempt": 3}})
	assert.NoError(t, err)
}

func TestAddScriptReplaces(t *testing.T) {
	e := NewTengoExecutor()
	e.AddScript(PreFetch, `err := "old"`)
	e.AddScript(PreFetch, `err := ""`)
	assert.True(t, e.HasScript(PreFetch))
	assert.NoError(t, e.Execute(PreFetch, Context{}))
}
