// Package config assembles runtime settings from defaults, an optional YAML
// file and EVALGRID_* environment variables. Command-line flags are applied
// on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"evalgrid/internal/blob"
	"evalgrid/internal/session"
)

// EnvConfigPath names the YAML file to read when no path is given.
const EnvConfigPath = "EVALGRID_CONFIG"

// DefaultRoles are the staff roles offered when none are configured.
var DefaultRoles = []string{"保育士", "リーダー", "主任", "看護師", "事務"}

// SessionConfig selects the session driver.
type SessionConfig struct {
	Driver      string        `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	RedisURL    string        `yaml:"redis_url"`
	TTL         time.Duration `yaml:"ttl"`
}

// BlobConfig selects where export archives are written.
type BlobConfig struct {
	Driver      string `yaml:"driver"`
	FSRoot      string `yaml:"fs_root"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Config is the full runtime configuration.
type Config struct {
	APIBase     string        `yaml:"api_base"`
	TenantID    string        `yaml:"tenant_id"`
	Role        string        `yaml:"role"`
	Roles       []string      `yaml:"roles"`
	Period      string        `yaml:"period"`
	FlushWindow time.Duration `yaml:"flush_window"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Session     SessionConfig `yaml:"session"`
	Blob        BlobConfig    `yaml:"blob"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIBase:     "http://localhost:3000",
		Role:        DefaultRoles[0],
		Roles:       append([]string(nil), DefaultRoles...),
		FlushWindow: 600 * time.Millisecond,
		HTTPTimeout: 30 * time.Second,
		LogLevel:    "info",
		Session:     SessionConfig{Driver: string(session.DriverSQLite), SQLitePath: "evalgrid.db"},
		Blob:        BlobConfig{Driver: string(blob.DriverFilesystem), FSRoot: "./exports"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// $EVALGRID_CONFIG), then the environment. A missing file named only by the
// environment is an error; so is a missing explicit path.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.MergeYAML(data)
}

// MergeYAML overlays the keys present in data onto c.
func (c *Config) MergeYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays every EVALGRID_* variable that lookup reports as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	str("EVALGRID_API_BASE", &c.APIBase)
	str("EVALGRID_TENANT_ID", &c.TenantID)
	str("EVALGRID_ROLE", &c.Role)
	if v, ok := lookup("EVALGRID_ROLES"); ok && strings.TrimSpace(v) != "" {
		c.Roles = SplitList(v)
	}
	str("EVALGRID_PERIOD", &c.Period)
	dur("EVALGRID_FLUSH_WINDOW", &c.FlushWindow)
	dur("EVALGRID_HTTP_TIMEOUT", &c.HTTPTimeout)
	str("EVALGRID_LOG_LEVEL", &c.LogLevel)
	str("EVALGRID_METRICS_ADDR", &c.MetricsAddr)

	str("EVALGRID_SESSION_DRIVER", &c.Session.Driver)
	str("EVALGRID_SESSION_SQLITE_PATH", &c.Session.SQLitePath)
	str("EVALGRID_SESSION_POSTGRES_DSN", &c.Session.PostgresDSN)
	str("EVALGRID_SESSION_REDIS_URL", &c.Session.RedisURL)
	dur("EVALGRID_SESSION_TTL", &c.Session.TTL)

	str("EVALGRID_BLOB_DRIVER", &c.Blob.Driver)
	str("EVALGRID_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("EVALGRID_BLOB_S3_BUCKET", &c.Blob.S3Bucket)
	str("EVALGRID_BLOB_S3_REGION", &c.Blob.S3Region)
	str("EVALGRID_BLOB_S3_ENDPOINT", &c.Blob.S3Endpoint)
	boolean("EVALGRID_BLOB_S3_PATH_STYLE", &c.Blob.S3PathStyle)

	return errors.Join(errs...)
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.APIBase) == "" {
		errs = append(errs, errors.New("api_base is required"))
	}
	if c.FlushWindow <= 0 {
		errs = append(errs, fmt.Errorf("flush_window must be positive, got %s", c.FlushWindow))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout))
	}
	if c.Session.TTL < 0 {
		errs = append(errs, fmt.Errorf("session.ttl must not be negative, got %s", c.Session.TTL))
	}
	if c.Period != "" {
		if _, err := time.Parse("2006-01", c.Period); err != nil {
			errs = append(errs, fmt.Errorf("period must be YYYY-MM, got %q", c.Period))
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := session.ParseDriver(c.Session.Driver); err != nil {
		errs = append(errs, err)
	}
	switch blob.Driver(c.Blob.Driver) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("blob.s3_bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if len(c.Roles) == 0 {
		errs = append(errs, errors.New("roles must not be empty"))
	}
	return errors.Join(errs...)
}

// HasRole reports whether role is one of the configured roles.
func (c Config) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ParseLogLevel maps debug|info|warn|error onto slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SessionSettings converts the session section for session.Open.
func (c Config) SessionSettings() session.Config {
	return session.Config{
		Driver:      session.Driver(c.Session.Driver),
		SQLitePath:  c.Session.SQLitePath,
		PostgresDSN: c.Session.PostgresDSN,
		RedisURL:    c.Session.RedisURL,
		TTL:         c.Session.TTL,
	}
}

// BlobSettings converts the blob section for blob.Open.
func (c Config) BlobSettings() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3Bucket,
			Region:    c.Blob.S3Region,
			Endpoint:  c.Blob.S3Endpoint,
			PathStyle: c.Blob.S3PathStyle,
		},
	}
}
