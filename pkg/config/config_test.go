package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virgo-archive/tapir/pkg/auth"
	"github.com/virgo-archive/tapir/pkg/errors"
)

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Empty(t, cfg.Services)
	assert.Equal(t, DefaultPollInterval, cfg.Settings.PollInterval)
	assert.Equal(t, DefaultMaxParallelDownloads, cfg.Settings.MaxParallelDownloads)
	assert.Equal(t, DefaultInlineThreshold, cfg.Settings.InlineThreshold)
	assert.Equal(t, DefaultHTTPTimeout, cfg.Settings.HTTPTimeout)
	assert.Equal(t, "info", cfg.Settings.LogLevel)
}

func TestLoadConfigEmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	assert.True(t, stderrors.Is(err, errors.ErrEmptyConfigPath))
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Services = []*ServiceConfig{
		{
			Name: "virgo",
			URL:  "https://archive.example.org/tap",
			Auth: &AuthConfig{Basic: &BasicAuth{Username: "alice", Password: "pw"}},
		},
	}
	cfg.Settings.CacheDir = "/var/cache/tapir"
	cfg.Settings.PollInterval = 5 * time.Second
	cfg.Settings.RateLimit = 2.5

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, loaded.Services, 1)
	assert.Equal(t, "virgo", loaded.Services[0].Name)
	assert.Equal(t, "alice", loaded.Services[0].Auth.Basic.Username)
	assert.Equal(t, "/var/cache/tapir", loaded.Settings.CacheDir)
	assert.Equal(t, 5*time.Second, loaded.Settings.PollInterval)
	assert.Equal(t, 2.5, loaded.Settings.RateLimit)
}

func TestLoadConfigParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.True(t, stderrors.Is(err, errors.ErrConfigParse))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unnamed service", func(c *Config) {
			c.Services = append(c.Services, &ServiceConfig{URL: "https://x"})
		}},
		{"duplicate service", func(c *Config) {
			c.Services = append(c.Services,
				&ServiceConfig{Name: "a", URL: "https://x"},
				&ServiceConfig{Name: "a", URL: "https://y"})
		}},
		{"service without url", func(c *Config) {
			c.Services = append(c.Services, &ServiceConfig{Name: "a"})
		}},
		{"negative poll interval", func(c *Config) {
			c.Settings.PollInterval = -time.Second
		}},
		{"negative parallelism", func(c *Config) {
			c.Settings.MaxParallelDownloads = -1
		}},
		{"negative rate limit", func(c *Config) {
			c.Settings.RateLimit = -0.5
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrConfigValidation))
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestFindService(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services = []*ServiceConfig{{Name: "virgo", URL: "https://x"}}

	svc, err := cfg.FindService("virgo")
	require.NoError(t, err)
	assert.Equal(t, "https://x", svc.URL)

	_, err = cfg.FindService("unknown")
	assert.True(t, stderrors.Is(err, errors.ErrConfigValidation))
}

func TestCacheDirFallsBackToPlatformDefault(t *testing.T) {
	cfg := DefaultConfig()
	dir, err := cfg.CacheDir()
	require.NoError(t, err)
	assert.NotEmpty(t, dir)

	cfg.Settings.CacheDir = "/custom/cache"
	dir, err = cfg.CacheDir()
	require.NoError(t, err)
	assert.Equal(t, "/custom/cache", dir)
}

func TestToAuthenticator(t *testing.T) {
	var nilCfg *AuthConfig
	assert.Nil(t, nilCfg.ToAuthenticator())
	assert.Nil(t, (&AuthConfig{}).ToAuthenticator())

	a := (&AuthConfig{Basic: &BasicAuth{Username: "u", Password: "p"}}).ToAuthenticator()
	assert.Equal(t, auth.BasicAuthType, a.Type())

	a = (&AuthConfig{Bearer: &BearerAuth{Token: "t"}}).ToAuthenticator()
	assert.Equal(t, auth.BearerAuthType, a.Type())

	a = (&AuthConfig{Header: &HeaderAuth{Headers: map[string]string{"X-K": "v"}}}).ToAuthenticator()
	assert.Equal(t, auth.HeaderAuthType, a.Type())
}
