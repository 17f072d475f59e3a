package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// InsecureFallbackSecret seeds key derivation when CALYX_CREDENTIAL_SECRET is
// unset. It keeps the store readable in development but offers no protection;
// production deployments must provide their own secret.
const InsecureFallbackSecret = "calyx-insecure-dev-secret-do-not-ship"

type Config struct {
	AppEnv           string `env:"APP_ENV" default:"development"`
	CredentialSecret string `env:"CALYX_CREDENTIAL_SECRET"`
	DataDir          string `env:"CALYX_DATA_DIR" default:"."`
	AccountsFile     string `env:"CALYX_ACCOUNTS_FILE" default:"accounts.json"`
	BackupDir        string `env:"CALYX_BACKUP_DIR" default:"backups"`
	MaxBackups       int    `env:"CALYX_MAX_BACKUPS" default:"10"`

	OAuthClientID     string `env:"CALYX_OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"CALYX_OAUTH_CLIENT_SECRET"`
	OAuthTokenURL     string `env:"CALYX_OAUTH_TOKEN_URL" default:"https://oauth2.googleapis.com/token"`
	OAuthRevokeURL    string `env:"CALYX_OAUTH_REVOKE_URL" default:"https://oauth2.googleapis.com/revoke"`

	RefreshWindow time.Duration `env:"CALYX_REFRESH_WINDOW" default:"60s"`
	RefreshSweep  time.Duration `env:"CALYX_REFRESH_SWEEP" default:"5m"`

	CacheMaxEntries       int           `env:"CALYX_CACHE_MAX_ENTRIES" default:"1000"`
	CacheMaxValueBytes    int           `env:"CALYX_CACHE_MAX_VALUE_BYTES" default:"1048576"`
	CacheCompressionBytes int           `env:"CALYX_CACHE_COMPRESSION_BYTES" default:"10240"`
	CacheJanitorInterval  time.Duration `env:"CALYX_CACHE_JANITOR_INTERVAL" default:"1m"`
	CacheSnapshotFile     string        `env:"CALYX_CACHE_SNAPSHOT_FILE" default:""`

	MetricsAddr string `env:"CALYX_METRICS_ADDR" default:"127.0.0.1:9464"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.CredentialSecret == "" {
		slog.Warn("CALYX_CREDENTIAL_SECRET is not set, falling back to the built-in development secret; stored credentials are NOT protected")
		cfg.CredentialSecret = InsecureFallbackSecret
	}

	if cfg.MaxBackups <= 0 {
		return fmt.Errorf("CALYX_MAX_BACKUPS must be positive, got %d", cfg.MaxBackups)
	}
	if cfg.CacheMaxEntries <= 0 {
		return fmt.Errorf("CALYX_CACHE_MAX_ENTRIES must be positive, got %d", cfg.CacheMaxEntries)
	}
	if cfg.CacheMaxValueBytes <= 0 {
		return fmt.Errorf("CALYX_CACHE_MAX_VALUE_BYTES must be positive, got %d", cfg.CacheMaxValueBytes)
	}
	if cfg.RefreshWindow <= 0 {
		return fmt.Errorf("CALYX_REFRESH_WINDOW must be positive, got %s", cfg.RefreshWindow)
	}

	return nil
}
