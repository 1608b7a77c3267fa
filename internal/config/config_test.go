package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KLEAR_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.True(t, cfg.HTTP.RateLimit)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "open", cfg.Trading.MatchPolicy)
	assert.Equal(t, 5*time.Minute, cfg.Ledger.AuditInterval)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("KLEAR_CONFIG", "")
	t.Setenv("KLEAR_ENV", "production")
	t.Setenv("KLEAR_HTTP_PORT", "9090")
	t.Setenv("KLEAR_HTTP_RATE_LIMIT", "false")
	t.Setenv("KLEAR_AUTH_TOKEN_TTL", "90m")
	t.Setenv("KLEAR_TRADING_MATCH_POLICY", "admin")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.False(t, cfg.HTTP.RateLimit)
	assert.Equal(t, 90*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "admin", cfg.Trading.MatchPolicy)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klear.yaml")
	content := `
http:
  port: 7000
database:
  driver: postgres
  dsn: host=localhost user=klear dbname=klear sslmode=disable
trading:
  match_policy: owner
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("KLEAR_TRADING_MATCH_POLICY", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "owner", cfg.Trading.MatchPolicy)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTP:     HTTPConfig{Port: 8080},
			Database: DatabaseConfig{Driver: "sqlite", DSN: "klear.db"},
			Auth:     AuthConfig{JWTSecret: "s", TokenTTL: time.Hour},
			Trading:  TradingConfig{MatchPolicy: "open"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"unknown policy", func(c *Config) { c.Trading.MatchPolicy = "everyone" }},
		{"admin email without password", func(c *Config) { c.Auth.AdminEmail = "admin@example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
