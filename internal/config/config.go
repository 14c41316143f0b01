// Package config loads the client configuration from the environment.
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// ObjectStoreConfig points the archiver at an S3-compatible bucket.
type ObjectStoreConfig struct {
	Bucket        string `env:"BUCKET"`
	Region        string `env:"REGION,default=us-east-1"`
	Endpoint      string `env:"ENDPOINT"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

// Enabled reports whether a bucket is configured.
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// Config captures the runtime configuration of the recap client.
type Config struct {
	APIURL         string `env:"RECAP_API_URL,default=http://localhost:8000"`
	APIPrefix      string `env:"RECAP_API_PREFIX,default=/api/v1"`
	GoogleClientID string `env:"RECAP_GOOGLE_CLIENT_ID"`

	Profile               string `env:"RECAP_PROFILE,default=default"`
	CredentialsFile       string `env:"RECAP_CREDENTIALS_FILE"`
	CredentialsMirror     string `env:"RECAP_CREDENTIALS_MIRROR"`
	CredentialsPassphrase string `env:"RECAP_CREDENTIALS_PASSPHRASE"`
	CredentialsDSN        string `env:"RECAP_CREDENTIALS_DSN"`

	LogLevel  string `env:"RECAP_LOG_LEVEL,default=info"`
	LogFormat string `env:"RECAP_LOG_FORMAT,default=text"`

	RequestTimeout  time.Duration `env:"RECAP_REQUEST_TIMEOUT,default=30s"`
	CoalesceRefresh bool          `env:"RECAP_COALESCE_REFRESH,default=false"`

	PollInterval time.Duration `env:"RECAP_POLL_INTERVAL,default=5s"`
	PollRate     float64       `env:"RECAP_POLL_RATE,default=2"`
	PollWorkers  int           `env:"RECAP_POLL_WORKERS,default=2"`

	YTDLPPath        string        `env:"RECAP_YTDLP_PATH,default=yt-dlp"`
	YTDLPTimeout     time.Duration `env:"RECAP_YTDLP_TIMEOUT,default=30s"`
	MetadataCacheTTL time.Duration `env:"RECAP_METADATA_CACHE_TTL,default=15m"`

	Archive ObjectStoreConfig `env:", prefix=RECAP_ARCHIVE_"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsAddr  string `env:"RECAP_METRICS_ADDR"`
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() error {
	if c.CredentialsFile == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		c.CredentialsFile = filepath.Join(dir, c.Profile+".json")
	}
	return nil
}

// Validate checks values envconfig cannot express.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("RECAP_API_URL must be an absolute http(s) url, got %q", c.APIURL)
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("RECAP_API_PREFIX must start with '/', got %q", c.APIPrefix)
	}
	if strings.ContainsAny(c.Profile, `/\`) || c.Profile == "" {
		return fmt.Errorf("RECAP_PROFILE must be a plain name, got %q", c.Profile)
	}
	if c.PollWorkers < 1 {
		return fmt.Errorf("RECAP_POLL_WORKERS must be positive, got %d", c.PollWorkers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("RECAP_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	return nil
}

// BaseURL joins the API url and the versioned prefix.
func (c Config) BaseURL() string {
	return strings.TrimRight(c.APIURL, "/") + c.APIPrefix
}

// DeviceIDPath is where the stable device identifier lives.
func (c Config) DeviceIDPath() string {
	return filepath.Join(filepath.Dir(c.CredentialsFile), "device_id")
}

// Dir returns the per-user configuration directory of the client.
func Dir() (string, error) {
	if dir := os.Getenv("RECAP_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(base, "recap"), nil
}
