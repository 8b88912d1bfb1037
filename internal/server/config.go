package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"ephemeral-drop/internal/sessions"
)

// HostFile overrides the bind address when present in the working directory.
const HostFile = ".host"

// Config is built once at startup and injected into the server.
type Config struct {
	Addr          string
	SessionsDir   string
	ScratchDir    string
	MaxFileBytes  int64
	MaxFiles      int
	SweepInterval time.Duration
	RetryBackoff  time.Duration
	ScratchTTL    time.Duration
	CookieDomain  string
	Version       string

	// Object-storage mirror; all four must be set to enable it.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	Bucket      string
	// MirrorSweepInterval paces the removal of mirrored sessions that no
	// longer exist locally.
	MirrorSweepInterval time.Duration

	// Audit log database; empty disables auditing.
	DatabaseURL string

	// Lifecycle webhook; empty URL disables it.
	WebhookURL    string
	WebhookSecret string

	RateLimits RateLimitConfig
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:8080",
		SessionsDir:   "sessions",
		ScratchDir:    filepath.Join(os.TempDir(), "ephemeral-drop"),
		MaxFileBytes:  sessions.DefaultLimits.MaxFileSize,
		MaxFiles:      sessions.DefaultLimits.MaxFiles,
		SweepInterval: sessions.DefaultSweepInterval,
		RetryBackoff:  sessions.DefaultRetryBackoff,
		ScratchTTL:    sessions.DefaultScratchTTL,
		Version:       "dev",
		RateLimits:    DefaultRateLimitConfig(),

		MirrorSweepInterval: 10 * time.Minute,
	}
}

// Limits returns the ingestion quotas carried by the config.
func (c Config) Limits() sessions.Limits {
	return sessions.Limits{MaxFileSize: c.MaxFileBytes, MaxFiles: c.MaxFiles}
}

// MirrorEnabled reports whether object-storage settings are complete.
func (c Config) MirrorEnabled() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.Bucket != ""
}

// fileConfig mirrors Config for TOML decoding. Durations are strings such
// as "2s" so the file stays readable.
type fileConfig struct {
	Addr          string `toml:"addr"`
	SessionsDir   string `toml:"sessions_dir"`
	ScratchDir    string `toml:"scratch_dir"`
	MaxFileBytes  int64  `toml:"max_file_bytes"`
	MaxFiles      int    `toml:"max_files"`
	SweepInterval string `toml:"sweep_interval"`
	RetryBackoff  string `toml:"retry_backoff"`
	ScratchTTL    string `toml:"scratch_ttl"`
	CookieDomain  string `toml:"cookie_domain"`

	S3 struct {
		Endpoint  string `toml:"endpoint"`
		AccessKey string `toml:"access_key"`
		SecretKey string `toml:"secret_key"`
		Bucket    string `toml:"bucket"`
		Sweep     string `toml:"sweep_interval"`
	} `toml:"s3"`

	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`

	Webhook struct {
		URL    string `toml:"url"`
		Secret string `toml:"secret"`
	} `toml:"webhook"`
}

// LoadConfig resolves the configuration in increasing precedence: defaults,
// the TOML file named by SFD_CONFIG, environment variables, the .host file
// and finally the first CLI argument.
func LoadConfig(args []string) (Config, error) {
	return loadConfig(args, os.Getenv, HostFile)
}

func loadConfig(args []string, getenv func(string) string, hostPath string) (Config, error) {
	cfg := DefaultConfig()
	v := NewConfigValidator()

	if path := getenv("SFD_CONFIG"); path != "" {
		if err := applyFile(&cfg, path, v); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg, getenv, v)

	host, err := readHostFile(hostPath)
	if err != nil {
		return cfg, err
	}
	if host != "" {
		cfg.Addr = host
	}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		cfg.Addr = strings.TrimSpace(args[0])
	}

	if cfg.CookieDomain == "" {
		cfg.CookieDomain = cookieDomainFor(cfg.Addr)
	}

	cfg.Validate(v)
	if v.HasErrors() {
		return cfg, errors.New(v.ErrorString())
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string, v *ConfigValidator) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	setString(&cfg.Addr, fc.Addr)
	setString(&cfg.SessionsDir, fc.SessionsDir)
	setString(&cfg.ScratchDir, fc.ScratchDir)
	setString(&cfg.CookieDomain, fc.CookieDomain)
	setString(&cfg.S3Endpoint, fc.S3.Endpoint)
	setString(&cfg.S3AccessKey, fc.S3.AccessKey)
	setString(&cfg.S3SecretKey, fc.S3.SecretKey)
	setString(&cfg.Bucket, fc.S3.Bucket)
	setString(&cfg.DatabaseURL, fc.Database.URL)
	setString(&cfg.WebhookURL, fc.Webhook.URL)
	setString(&cfg.WebhookSecret, fc.Webhook.Secret)

	if fc.MaxFileBytes != 0 {
		cfg.MaxFileBytes = fc.MaxFileBytes
	}
	if fc.MaxFiles != 0 {
		cfg.MaxFiles = fc.MaxFiles
	}
	setDuration(&cfg.SweepInterval, "sweep_interval", fc.SweepInterval, v)
	setDuration(&cfg.RetryBackoff, "retry_backoff", fc.RetryBackoff, v)
	setDuration(&cfg.ScratchTTL, "scratch_ttl", fc.ScratchTTL, v)
	setDuration(&cfg.MirrorSweepInterval, "s3.sweep_interval", fc.S3.Sweep, v)
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string, v *ConfigValidator) {
	setString(&cfg.Addr, getenv("SFD_ADDR"))
	setString(&cfg.SessionsDir, getenv("SFD_SESSIONS_DIR"))
	setString(&cfg.ScratchDir, getenv("SFD_SCRATCH_DIR"))
	setString(&cfg.CookieDomain, getenv("SFD_COOKIE_DOMAIN"))
	setString(&cfg.Version, getenv("SFD_VERSION"))
	setString(&cfg.S3Endpoint, getenv("SFD_S3_ENDPOINT"))
	setString(&cfg.S3AccessKey, getenv("SFD_S3_ACCESS_KEY"))
	setString(&cfg.S3SecretKey, getenv("SFD_S3_SECRET_KEY"))
	setString(&cfg.Bucket, getenv("SFD_BUCKET"))
	setString(&cfg.DatabaseURL, getenv("DATABASE_URL"))
	setString(&cfg.WebhookURL, getenv("SFD_WEBHOOK_URL"))
	setString(&cfg.WebhookSecret, getenv("SFD_WEBHOOK_SECRET"))

	if raw := getenv("SFD_MAX_FILE_BYTES"); raw != "" {
		if n, ok := v.ValidatePositiveInt("SFD_MAX_FILE_BYTES", raw); ok {
			cfg.MaxFileBytes = n
		}
	}
	if raw := getenv("SFD_MAX_FILES"); raw != "" {
		if n, ok := v.ValidatePositiveInt("SFD_MAX_FILES", raw); ok {
			cfg.MaxFiles = int(n)
		}
	}
	setDuration(&cfg.SweepInterval, "SFD_SWEEP_INTERVAL", getenv("SFD_SWEEP_INTERVAL"), v)
	setDuration(&cfg.RetryBackoff, "SFD_RETRY_BACKOFF", getenv("SFD_RETRY_BACKOFF"), v)
	setDuration(&cfg.ScratchTTL, "SFD_SCRATCH_TTL", getenv("SFD_SCRATCH_TTL"), v)
	setDuration(&cfg.MirrorSweepInterval, "SFD_MIRROR_SWEEP_INTERVAL", getenv("SFD_MIRROR_SWEEP_INTERVAL"), v)

	v.ValidateEnum("SFD_LOG_FORMAT", getenv("SFD_LOG_FORMAT"), []string{"", "json", "text"})
	v.ValidateEnum("SFD_LOG_LEVEL", getenv("SFD_LOG_LEVEL"), []string{"", "debug", "info", "warn", "error"})
	v.ValidateEnum("SFD_ENV", getenv("SFD_ENV"), []string{"", "development", "production", "staging"})
}

// readHostFile returns the trimmed contents of path, or "" if it is absent.
func readHostFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// cookieDomainFor derives the owner cookie domain from the bind address.
// A wildcard bind yields "" so the browser scopes the cookie to the host.
func cookieDomainFor(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		return ""
	}
	return host
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, raw string, v *ConfigValidator) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// Bare integers are seconds.
		secs, ierr := strconv.ParseInt(raw, 10, 64)
		if ierr != nil {
			v.AddError(key, "must be a duration such as 2s or 1h")
			return
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		v.AddError(key, "must be positive")
		return
	}
	*dst = d
}
