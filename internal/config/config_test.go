// Package config tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnvs(t *testing.T) {
	t.Helper()
	t.Setenv("OVERBASE_API_KEY", "test-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnvs(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, 2, cfg.LeadDays)
	assert.Equal(t, 800*time.Millisecond, cfg.SaveDelay)
	assert.Equal(t, 24*time.Hour, cfg.EphemeralTTL)
	assert.Equal(t, "overbase:", cfg.RedisKeyPrefix)
	assert.False(t, cfg.SummarizerEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnvs(t)
	t.Setenv("OVERBASE_STORE_BACKEND", "redis")
	t.Setenv("OVERBASE_LEAD_DAYS", "5")
	t.Setenv("OVERBASE_SAVE_DELAY", "1500ms")
	t.Setenv("OVERBASE_SUMMARIZER_URL", "http://summarizer:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, 5, cfg.LeadDays)
	assert.Equal(t, 1500*time.Millisecond, cfg.SaveDelay)
	assert.True(t, cfg.SummarizerEnabled())
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("OVERBASE_API_KEY", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OVERBASE_API_KEY")

	cfg, err := LoadTool()
	require.NoError(t, err)
	assert.Equal(t, "api-key", cfg.AuthMode)

	t.Setenv("OVERBASE_AUTH_MODE", "none")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoad_YAMLFileOverridesEnv(t *testing.T) {
	setRequiredEnvs(t)
	t.Setenv("OVERBASE_LISTEN_ADDR", ":7000")
	t.Setenv("SUMMARY_SECRET", "s3cret")

	path := filepath.Join(t.TempDir(), "overbase.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_backend: memory
summarizer_secret: ${SUMMARY_SECRET}
lead_days: 3
ephemeral_ttl: 2h
location: Europe/Paris
`), 0o600))
	t.Setenv("OVERBASE_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "s3cret", cfg.SummarizerSecret)
	assert.Equal(t, 3, cfg.LeadDays)
	assert.Equal(t, 2*time.Hour, cfg.EphemeralTTL)
	assert.Equal(t, ":7000", cfg.ListenAddr, "keys absent from the file keep env values")

	loc, err := cfg.TimeLocation()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())
}

func TestLoad_MissingConfigFile(t *testing.T) {
	setRequiredEnvs(t)
	t.Setenv("OVERBASE_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			AuthMode:          "none",
			StoreBackend:      "sqlite",
			RateLimitRPS:      1,
			RateLimitBurst:    1,
			SummarizerTimeout: time.Second,
			SaveDelay:         time.Second,
			ResummarizeDelay:  time.Second,
			SchedulerInterval: time.Second,
			SweepInterval:     time.Second,
			EphemeralTTL:      time.Second,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "postgres" }},
		{"unknown auth", func(c *Config) { c.AuthMode = "mtls" }},
		{"jwt without secret", func(c *Config) { c.AuthMode = "jwt" }},
		{"zero save delay", func(c *Config) { c.SaveDelay = 0 }},
		{"negative ttl", func(c *Config) { c.EphemeralTTL = -time.Minute }},
		{"negative lead days", func(c *Config) { c.LeadDays = -1 }},
		{"bad location", func(c *Config) { c.Location = "Mars/Olympus" }},
		{"zero rate limit", func(c *Config) { c.RateLimitRPS = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	tool := valid()
	tool.AuthMode = "api-key"
	assert.NoError(t, tool.ValidateCore())
	assert.Error(t, tool.Validate())
}

func TestCORSOriginList(t *testing.T) {
	cfg := &Config{CORSOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOriginList())
	assert.Nil(t, (&Config{}).CORSOriginList())
}
