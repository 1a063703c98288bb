package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Prefix is prepended to every environment variable name.
const Prefix = "OVERBASE"

// Config holds all application configuration. Values come from environment
// variables first; a YAML file named by OVERBASE_CONFIG_FILE overrides any
// key it sets.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development" yaml:"environment"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	ConfigFile  string `envconfig:"CONFIG_FILE" yaml:"-"`

	// HTTP API
	ListenAddr     string `envconfig:"LISTEN_ADDR" default:":8080" yaml:"listen_addr"`
	AuthMode       string `envconfig:"AUTH_MODE" default:"api-key" yaml:"auth_mode"` // "api-key", "jwt" or "none"
	APIKey         string `envconfig:"API_KEY" yaml:"api_key"`
	JWTSecret      string `envconfig:"JWT_SECRET" yaml:"jwt_secret"` // HS256; the token subject is the owner id
	JWTIssuer      string `envconfig:"JWT_ISSUER" yaml:"jwt_issuer"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS" yaml:"cors_origins"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"50" yaml:"rate_limit_rps"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"100" yaml:"rate_limit_burst"`

	// Document store
	StoreBackend   string `envconfig:"STORE_BACKEND" default:"sqlite" yaml:"store_backend"` // sqlite | redis | memory
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"overbase.db" yaml:"sqlite_path"`
	RedisURL       string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0" yaml:"redis_url"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"overbase:" yaml:"redis_key_prefix"`

	// Summarizer
	SummarizerURL      string        `envconfig:"SUMMARIZER_URL" yaml:"summarizer_url"`
	SummarizerSecret   string        `envconfig:"SUMMARIZER_SECRET" yaml:"summarizer_secret"`
	SummarizerStub     bool          `envconfig:"SUMMARIZER_STUB" default:"false" yaml:"summarizer_stub"`
	SummarizerTimeout  time.Duration `envconfig:"SUMMARIZER_TIMEOUT" default:"20s" yaml:"summarizer_timeout"`
	SummarizerAttempts int           `envconfig:"SUMMARIZER_ATTEMPTS" default:"3" yaml:"summarizer_attempts"`

	// Scheduling
	Location          string        `envconfig:"LOCATION" default:"UTC" yaml:"location"`
	LeadDays          int           `envconfig:"LEAD_DAYS" default:"2" yaml:"lead_days"`
	SaveDelay         time.Duration `envconfig:"SAVE_DELAY" default:"800ms" yaml:"save_delay"`
	ResummarizeDelay  time.Duration `envconfig:"RESUMMARIZE_DELAY" default:"2s" yaml:"resummarize_delay"`
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1m" yaml:"scheduler_interval"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"15m" yaml:"sweep_interval"`
	EphemeralTTL      time.Duration `envconfig:"EPHEMERAL_TTL" default:"24h" yaml:"ephemeral_ttl"`
	DeliveryRetention time.Duration `envconfig:"DELIVERY_RETENTION" default:"2160h" yaml:"delivery_retention"`
}

// CORSOriginList returns the parsed list of allowed origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// SummarizerEnabled returns true if a remote summarizer is configured.
func (c *Config) SummarizerEnabled() bool {
	return c.SummarizerURL != "" && !c.SummarizerStub
}

// TimeLocation resolves Location. An empty name means UTC.
func (c *Config) TimeLocation() (*time.Location, error) {
	if c.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid location %q: %w", c.Location, err)
	}
	return loc, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if err := c.ValidateCore(); err != nil {
		return err
	}
	return c.validateAuth()
}

func (c *Config) validateAuth() error {
	switch c.AuthMode {
	case "none":
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("auth mode api-key requires %s_API_KEY", Prefix)
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("auth mode jwt requires %s_JWT_SECRET", Prefix)
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.AuthMode)
	}
	return nil
}

// ValidateCore checks everything except the API auth settings.
func (c *Config) ValidateCore() error {
	switch c.StoreBackend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	durations := map[string]time.Duration{
		"summarizer_timeout": c.SummarizerTimeout,
		"save_delay":         c.SaveDelay,
		"resummarize_delay":  c.ResummarizeDelay,
		"scheduler_interval": c.SchedulerInterval,
		"sweep_interval":     c.SweepInterval,
		"ephemeral_ttl":      c.EphemeralTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.LeadDays < 0 {
		return fmt.Errorf("lead_days must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if _, err := c.TimeLocation(); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from OVERBASE_* environment variables and the
// optional YAML file, then validates it.
func Load() (*Config, error) {
	return LoadWithPrefix(Prefix)
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	cfg, err := read(prefix)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTool is Load for commands that do not serve the API; auth settings
// are not required.
func LoadTool() (*Config, error) {
	cfg, err := read(Prefix)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateCore(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func read(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if cfg.ConfigFile != "" {
		raw, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfg.ConfigFile, err)
		}
		if err := cfg.Overlay(raw); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", cfg.ConfigFile, err)
		}
	}
	return &cfg, nil
}

// Overlay applies YAML on top of cfg after expanding ${VAR} references.
// Keys missing from the document keep their current values.
func (c *Config) Overlay(data []byte) error {
	expanded := expandEnvVars(string(data))
	return yaml.Unmarshal([]byte(expanded), c)
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value. Missing
// vars expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
