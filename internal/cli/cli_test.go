package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virgo-archive/tapir/pkg/config"
	"github.com/virgo-archive/tapir/test/testutil"
)

// withFixtureConfig points the CLI at a config file naming the fixture
// service and returns after restoring the previous config path.
func withFixtureConfig(t *testing.T, ts *testutil.TAPServer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Services = []*config.ServiceConfig{{Name: "fixture", URL: ts.URL()}}
	cfg.Settings.CacheDir = t.TempDir()
	cfg.Settings.PollInterval = 5 * time.Millisecond
	cfg.Settings.LogLevel = "error"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))

	prev := ConfigPath
	ConfigPath = &path
	t.Cleanup(func() { ConfigPath = prev })
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQueryCmdSync(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	ts.SyncBody = []byte("<VOTABLE>sync rows</VOTABLE>")
	withFixtureConfig(t, ts)

	out, err := runCommand(t, NewQueryCmd(), "--service", "fixture", "SELECT TOP 3 * FROM ivoa.obscore")
	require.NoError(t, err)
	assert.Contains(t, out, "sync rows")
}

func TestQueryCmdAsync(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	ts.ResultBody = []byte("async product")
	withFixtureConfig(t, ts)

	out, err := runCommand(t, NewQueryCmd(), "--service", "fixture", "--async", "SELECT * FROM big.catalog")
	require.NoError(t, err)

	// The command prints the staged local path of each downloaded result.
	path := strings.TrimSpace(out)
	require.NotEmpty(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "async product", string(data))
}

func TestQueryCmdRequiresService(t *testing.T) {
	_, err := runCommand(t, NewQueryCmd(), "SELECT 1")
	assert.Error(t, err)
}

func TestJobStatusCmdVanishedJob(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	withFixtureConfig(t, ts)

	out, err := runCommand(t, NewJobCmd(), "status", "job-gone", "--service", "fixture")
	require.NoError(t, err)
	assert.Contains(t, out, "UNKNOWN")
	assert.Contains(t, out, "no longer exists")
}

func TestDownloadCmd(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	ts.ResultBody = []byte("bulk product bytes")
	withFixtureConfig(t, ts)

	out, err := runCommand(t, NewDownloadCmd(), ts.URL()+"/data/result")
	require.NoError(t, err)

	path := strings.TrimSpace(out)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bulk product bytes", string(data))
}

func TestVerifyCmd(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	withFixtureConfig(t, ts)
	url := ts.URL() + "/data/result"

	_, err := runCommand(t, NewDownloadCmd(), url)
	require.NoError(t, err)

	out, err := runCommand(t, NewVerifyCmd(), url)
	require.NoError(t, err)
	assert.Contains(t, out, "verified")
}

func TestVerifyCmdReportsStale(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	withFixtureConfig(t, ts)
	url := ts.URL() + "/data/result"

	_, err := runCommand(t, NewDownloadCmd(), url)
	require.NoError(t, err)

	// The product changed server-side after it was cached.
	ts.ResultBody = []byte("a replacement of a different length")
	out, err := runCommand(t, NewVerifyCmd(), url)
	require.Error(t, err)
	assert.Contains(t, out, "stale")
	assert.Contains(t, err.Error(), "failed verification")
}

func TestLoginCmdPromptsOnPipedInput(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	withFixtureConfig(t, ts)

	cmd := NewLoginCmd()
	cmd.SetIn(strings.NewReader(ts.Username + "\n" + ts.Password + "\n"))
	out, err := runCommand(t, cmd, "--service", "fixture")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in to fixture as "+ts.Username)
}

func TestLoginCmdBadPassword(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	withFixtureConfig(t, ts)

	_, err := runCommand(t, NewLoginCmd(), "--service", "fixture", "-u", ts.Username, "--password", "wrong")
	assert.Error(t, err)
}

func TestCacheInfoAndClean(t *testing.T) {
	ts := testutil.NewTAPServer()
	defer ts.Close()
	withFixtureConfig(t, ts)

	_, err := runCommand(t, NewDownloadCmd(), ts.URL()+"/data/result")
	require.NoError(t, err)

	out, err := runCommand(t, NewCacheCmd(), "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Directory:")
	assert.Contains(t, out, "Files:     2")

	out, err = runCommand(t, NewCacheCmd(), "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "freed")

	out, err = runCommand(t, NewCacheCmd(), "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Files:     0")
}

func TestVersionCmd(t *testing.T) {
	out, err := runCommand(t, NewVersionCmd())
	require.NoError(t, err)
	assert.Contains(t, out, "tapir dev")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "2.0 KiB", formatBytes(2048))
	assert.Equal(t, "5.0 MiB", formatBytes(5<<20))
	assert.Equal(t, "1.5 GiB", formatBytes(3<<29))
}
