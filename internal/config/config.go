// Package config loads agent settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// DevelopmentSecret encrypts local data when no key is configured in
	// development. It is public and must never protect real data.
	DevelopmentSecret = "sitetrace-development-only-secret"
)

var (
	ErrMissingSecret = errors.New("config: ANALYTICS_ENCRYPTION_KEY is required outside development")
	ErrInvalid       = errors.New("config: invalid configuration")
)

var storeBackends = []string{"file", "sqlite", "s3", "redis", "memory"}

var mailDrivers = []string{"smtp", "postmark", "dev"}

type Config struct {
	Env    string `env:"APP_ENV" envDefault:"production"`
	Secret string `env:"ANALYTICS_ENCRYPTION_KEY"`

	// InsecureSecret is set when Secret fell back to DevelopmentSecret.
	InsecureSecret bool `env:"-"`

	Host string `env:"ANALYTICS_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"ANALYTICS_PORT" envDefault:"4000"`

	DataDir       string `env:"DATA_DIR"`
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"file"`
	StoreCapacity int    `env:"STORE_CAPACITY" envDefault:"1000"`

	S3    S3Config
	Redis RedisConfig

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
	BodyLimit      string  `env:"BODY_LIMIT" envDefault:"500K"`

	Mail   MailConfig
	Report ReportConfig
}

type S3Config struct {
	Bucket         string `env:"S3_BUCKET"`
	Key            string `env:"S3_KEY" envDefault:"analytics-store.enc"`
	Region         string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"S3_SECRET_ACCESS_KEY"`
	Endpoint       string `env:"S3_ENDPOINT"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
	Key string `env:"REDIS_KEY" envDefault:"sitetrace:analytics"`
}

type MailConfig struct {
	Driver string `env:"MAIL_DRIVER" envDefault:"dev"`

	Host     string `env:"EMAIL_HOST" envDefault:"smtp.gmail.com"`
	Port     int    `env:"EMAIL_PORT" envDefault:"587"`
	Username string `env:"EMAIL_USER"`
	Password string `env:"EMAIL_PASS"`
	TLSMode  string `env:"EMAIL_TLS_MODE" envDefault:"starttls"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`

	DevDir string `env:"MAIL_DEV_DIR"`
}

type ReportConfig struct {
	Recipient string `env:"REPORT_RECIPIENT"`
	Sender    string `env:"REPORT_SENDER" envDefault:"analytics@sitetrace.local"`
	Cron      string `env:"REPORT_CRON" envDefault:"0 9 * * 0"`
	Timezone  string `env:"REPORT_TIMEZONE" envDefault:"Asia/Kolkata"`
}

// Load reads the given .env files (".env" when none are named; a missing
// file is skipped), parses the environment and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.Mail.Driver = strings.ToLower(strings.TrimSpace(c.Mail.Driver))

	if c.Secret == "" && c.IsDevelopment() {
		c.Secret = DevelopmentSecret
		c.InsecureSecret = true
	}
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	if c.Mail.DevDir == "" {
		c.Mail.DevDir = filepath.Join(c.DataDir, "mail")
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return ErrMissingSecret
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("%w: APP_ENV must be %s or %s", ErrInvalid, EnvDevelopment, EnvProduction)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: ANALYTICS_PORT must be between 1 and 65535", ErrInvalid)
	}
	if !slices.Contains(storeBackends, c.StoreBackend) {
		return fmt.Errorf("%w: STORE_BACKEND must be one of %s", ErrInvalid, strings.Join(storeBackends, ", "))
	}
	if c.StoreCapacity <= 0 {
		return fmt.Errorf("%w: STORE_CAPACITY must be positive", ErrInvalid)
	}
	switch c.StoreBackend {
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: S3_BUCKET is required for the s3 backend", ErrInvalid)
		}
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: REDIS_URL is required for the redis backend", ErrInvalid)
		}
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate limits cannot be negative", ErrInvalid)
	}
	if !slices.Contains(mailDrivers, c.Mail.Driver) {
		return fmt.Errorf("%w: MAIL_DRIVER must be one of %s", ErrInvalid, strings.Join(mailDrivers, ", "))
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Addr is the listen address of the collector.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StorePath is the file or database location for local backends.
func (c *Config) StorePath() string {
	if c.StoreBackend == "sqlite" {
		return filepath.Join(c.DataDir, "analytics.db")
	}
	return filepath.Join(c.DataDir, "analytics-store.json")
}

// DefaultDataDir is the per-user application directory.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "SiteTrace"), nil
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "SiteTrace"), nil
	default: // linux and others
		return filepath.Join(home, ".local", "share", "SiteTrace"), nil
	}
}
