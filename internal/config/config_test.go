package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"APP_ENV", "ANALYTICS_ENCRYPTION_KEY", "ANALYTICS_HOST", "ANALYTICS_PORT", "DATA_DIR",
	"STORE_BACKEND", "STORE_CAPACITY", "S3_BUCKET", "S3_KEY", "S3_REGION", "S3_ENDPOINT",
	"REDIS_URL", "REDIS_KEY", "LOG_LEVEL", "LOG_FORMAT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT", "MAIL_DRIVER", "MAIL_DEV_DIR", "REPORT_RECIPIENT", "REPORT_CRON", "REPORT_TIMEZONE",
}

// cleanEnv unsets every variable the loader reads; t.Setenv restores them.
func cleanEnv(t *testing.T) string {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	return dir
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	cleanEnv(t)

	_, err := Load(missingEnvFile(t))
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestLoadDevelopmentFallsBackToInsecureSecret(t *testing.T) {
	cleanEnv(t)
	t.Setenv("APP_ENV", "Development")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, DevelopmentSecret, cfg.Secret)
	assert.True(t, cfg.InsecureSecret)
}

func TestLoadDefaults(t *testing.T) {
	dir := cleanEnv(t)
	t.Setenv("ANALYTICS_ENCRYPTION_KEY", "secret")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Env)
	assert.False(t, cfg.InsecureSecret)
	assert.Equal(t, "0.0.0.0:4000", cfg.Addr())
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Equal(t, 1000, cfg.StoreCapacity)
	assert.Equal(t, filepath.Join(dir, "analytics-store.json"), cfg.StorePath())
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, "500K", cfg.BodyLimit)
	assert.Equal(t, "dev", cfg.Mail.Driver)
	assert.Equal(t, filepath.Join(dir, "mail"), cfg.Mail.DevDir)
	assert.Equal(t, "0 9 * * 0", cfg.Report.Cron)
	assert.Equal(t, "Asia/Kolkata", cfg.Report.Timezone)
	assert.Equal(t, "sitetrace:analytics", cfg.Redis.Key)
}

func TestLoadEnvFile(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"ANALYTICS_ENCRYPTION_KEY=from-file\nANALYTICS_PORT=5001\nSTORE_BACKEND=sqlite\nREPORT_RECIPIENT=owner@example.com\n",
	), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Secret)
	assert.Equal(t, 5001, cfg.Port)
	assert.Equal(t, "owner@example.com", cfg.Report.Recipient)
	assert.Equal(t, filepath.Join(cfg.DataDir, "analytics.db"), cfg.StorePath())
}

func TestEnvironmentWinsOverEnvFile(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ANALYTICS_ENCRYPTION_KEY", "from-env")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ANALYTICS_ENCRYPTION_KEY=from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Secret)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Env:           EnvProduction,
			Secret:        "s",
			Port:          4000,
			StoreBackend:  "file",
			StoreCapacity: 1000,
			Mail:          MailConfig{Driver: "dev"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		err    error
	}{
		{"valid", func(*Config) {}, nil},
		{"missing secret", func(c *Config) { c.Secret = "" }, ErrMissingSecret},
		{"unknown env", func(c *Config) { c.Env = "staging" }, ErrInvalid},
		{"bad port", func(c *Config) { c.Port = 70000 }, ErrInvalid},
		{"unknown backend", func(c *Config) { c.StoreBackend = "mongo" }, ErrInvalid},
		{"zero capacity", func(c *Config) { c.StoreCapacity = 0 }, ErrInvalid},
		{"s3 without bucket", func(c *Config) { c.StoreBackend = "s3" }, ErrInvalid},
		{"s3 with bucket", func(c *Config) { c.StoreBackend = "s3"; c.S3.Bucket = "b" }, nil},
		{"redis without url", func(c *Config) { c.StoreBackend = "redis" }, ErrInvalid},
		{"negative rate", func(c *Config) { c.RateLimitRPS = -1 }, ErrInvalid},
		{"unknown mail driver", func(c *Config) { c.Mail.Driver = "sendmail" }, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDefaultDataDir(t *testing.T) {
	dir, err := DefaultDataDir()
	require.NoError(t, err)
	assert.Equal(t, "SiteTrace", filepath.Base(dir))
}
