// Package config handles loading, validating and persisting tapir's YAML
// configuration: archive service endpoints and the engine settings (polling,
// download concurrency, cache location).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/fsutil"
)

// Config is the application configuration.
type Config struct {
	// Services are the archive endpoints tapir can talk to.
	Services []*ServiceConfig `yaml:"services"`

	Settings Settings `yaml:"settings"`
}

// ServiceConfig describes one archive service.
type ServiceConfig struct {
	Name string `yaml:"name"`
	// URL is the service base endpoint exposing /sync, /async, /login.
	URL  string      `yaml:"url"`
	Auth *AuthConfig `yaml:"auth,omitempty"`
}

// Settings are the engine-wide options.
type Settings struct {
	// CacheDir is the root for downloaded artifacts; empty selects the
	// platform cache directory.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// PollInterval is the sleep between job status checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxWait bounds a whole wait-until-terminal call; 0 means no deadline.
	MaxWait time.Duration `yaml:"max_wait"`

	// MaxParallelDownloads caps concurrent transfers in batched fetches.
	MaxParallelDownloads int `yaml:"max_parallel_downloads"`

	// InlineThreshold is the size in bytes below which sync results are
	// served from memory instead of the cache.
	InlineThreshold int64 `yaml:"inline_threshold"`

	// VerifyOnly makes fetches check cached entries against the server
	// without transferring.
	VerifyOnly bool `yaml:"verify_only"`

	// ExtractArchives unpacks recognized archive deliveries after download.
	ExtractArchives bool `yaml:"extract_archives"`

	// HTTPTimeout bounds each protocol request (not bulk transfers).
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// RateLimit throttles outgoing requests per second; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`

	UserAgent string `yaml:"user_agent,omitempty"`
	LogLevel  string `yaml:"log_level"`
}

// Default settings.
const (
	DefaultPollInterval         = 2 * time.Second
	DefaultHTTPTimeout          = 30 * time.Second
	DefaultMaxParallelDownloads = 4
	DefaultInlineThreshold      = int64(4 << 20)
)

// DefaultConfig returns a configuration with sensible defaults and no
// services.
func DefaultConfig() *Config {
	return &Config{
		Services: []*ServiceConfig{},
		Settings: Settings{
			PollInterval:         DefaultPollInterval,
			MaxParallelDownloads: DefaultMaxParallelDownloads,
			InlineThreshold:      DefaultInlineThreshold,
			HTTPTimeout:          DefaultHTTPTimeout,
			LogLevel:             "info",
		},
	}
}

// DefaultConfigPath returns the platform config file location,
// e.g. ~/.config/tapir/config.yaml on Linux.
func DefaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, fsutil.AppName, "config.yaml"), nil
}

// LoadConfig reads and validates the configuration at path. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfigParse, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), fsutil.DirModeSecure); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	return os.WriteFile(path, data, fsutil.FileModeSecure)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, svc := range c.Services {
		if svc.Name == "" {
			return errors.Wrap(errors.ErrConfigValidation, "service without a name")
		}
		if seen[svc.Name] {
			return errors.Wrapf(errors.ErrConfigValidation, "duplicate service %q", svc.Name)
		}
		seen[svc.Name] = true
		if svc.URL == "" {
			return errors.Wrapf(errors.ErrConfigValidation, "service %q has no url", svc.Name)
		}
	}
	s := c.Settings
	if s.PollInterval < 0 || s.MaxWait < 0 || s.HTTPTimeout < 0 {
		return errors.Wrap(errors.ErrConfigValidation, "durations must not be negative")
	}
	if s.MaxParallelDownloads < 0 {
		return errors.Wrap(errors.ErrConfigValidation, "max_parallel_downloads must not be negative")
	}
	if s.RateLimit < 0 {
		return errors.Wrap(errors.ErrConfigValidation, "rate_limit must not be negative")
	}
	return nil
}

// FindService returns the named service.
func (c *Config) FindService(name string) (*ServiceConfig, error) {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("service %q not configured: %w", name, errors.ErrConfigValidation)
}

// CacheDir resolves the cache root, falling back to the platform default.
func (c *Config) CacheDir() (string, error) {
	if c.Settings.CacheDir != "" {
		return c.Settings.CacheDir, nil
	}
	return fsutil.GetCacheDir()
}
