package cli

import (
	"path/filepath"

	"github.com/virgo-archive/tapir/internal/logger"
	"github.com/virgo-archive/tapir/pkg/auth"
	"github.com/virgo-archive/tapir/pkg/config"
	"github.com/virgo-archive/tapir/pkg/download"
	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/tap"
	"github.com/virgo-archive/tapir/pkg/transport"
)

// Shared flag storage, set up by the root command.
var (
	ConfigPath *string
	Verbose    *bool
)

// loadConfig reads the configuration and initializes logging.
func loadConfig() (*config.Config, error) {
	path := ""
	if ConfigPath != nil {
		path = *ConfigPath
	}
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, errors.Wrap(err, "could not locate config")
		}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Settings.LogLevel
	if Verbose != nil && *Verbose {
		level = "debug"
	}
	logger.InitLogger(level)
	return cfg, nil
}

// cacheRoot resolves the absolute cache root directory.
func cacheRoot(cfg *config.Config) (string, error) {
	root, err := cfg.CacheDir()
	if err != nil {
		return "", errors.Wrap(err, "could not resolve cache dir")
	}
	return filepath.Abs(root)
}

// buildClient assembles the archive client for the named service.
func buildClient(cfg *config.Config, service string) (*tap.Client, error) {
	svc, err := cfg.FindService(service)
	if err != nil {
		return nil, err
	}
	root, err := cacheRoot(cfg)
	if err != nil {
		return nil, err
	}
	var static auth.Authenticator
	if svc.Auth != nil {
		static = svc.Auth.ToAuthenticator()
	}
	return tap.New(svc.URL, cfg.Settings, static, tap.Options{
		CacheDir: filepath.Join(root, "products", svc.Name),
	})
}

// buildDownloader assembles a bare download manager for direct product URLs
// that do not belong to a configured service.
func buildDownloader(cfg *config.Config, subdir string) (*download.Manager, error) {
	root, err := cacheRoot(cfg)
	if err != nil {
		return nil, err
	}
	client := transport.NewClient(0,
		transport.WithUserAgent(cfg.Settings.UserAgent),
		transport.WithRateLimit(cfg.Settings.RateLimit, 1),
	)
	return download.NewManager(filepath.Join(root, subdir), client,
		download.WithVerifyOnly(cfg.Settings.VerifyOnly),
		download.WithExtract(cfg.Settings.ExtractArchives),
	)
}
