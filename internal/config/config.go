package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Session backends of the web front-end.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// devSandboxKey signs sandbox tokens in development when no key is set.
const devSandboxKey = "medibridge-sandbox-development-signing-key"

const minSigningKeyLen = 32

type Config struct {
	Env      string `mapstructure:"ENV"`
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	APIBaseURL string        `mapstructure:"API_BASE_URL"`
	APITimeout time.Duration `mapstructure:"API_TIMEOUT"`

	SessionBackend string        `mapstructure:"SESSION_BACKEND"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	SessionTTL     time.Duration `mapstructure:"SESSION_TTL"`
	SessionFile    string        `mapstructure:"SESSION_FILE"`
	CookieSecure   bool          `mapstructure:"COOKIE_SECURE"`

	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
	LoginRateLimitRPS   float64       `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst int           `mapstructure:"LOGIN_RATE_LIMIT_BURST"`

	SandboxPort       string   `mapstructure:"SANDBOX_PORT"`
	SandboxSigningKey string   `mapstructure:"SANDBOX_SIGNING_KEY"`
	SandboxPatients   int      `mapstructure:"SANDBOX_PATIENTS"`
	SandboxSeed       int64    `mapstructure:"SANDBOX_SEED"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"ENV", "PORT", "LOG_LEVEL",
	"API_BASE_URL", "API_TIMEOUT",
	"SESSION_BACKEND", "REDIS_URL", "SESSION_TTL", "SESSION_FILE", "COOKIE_SECURE",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "LOGIN_RATE_LIMIT_RPS", "LOGIN_RATE_LIMIT_BURST",
	"SANDBOX_PORT", "SANDBOX_SIGNING_KEY", "SANDBOX_PATIENTS", "SANDBOX_SEED", "CORS_ORIGINS",
}

// Load reads .env (when present) and the environment. It does not validate;
// callers pick the checks that apply to the command being run.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("API_TIMEOUT", "10s")
	v.SetDefault("SESSION_BACKEND", SessionBackendMemory)
	v.SetDefault("SESSION_TTL", "0s")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 1.0/6)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)
	v.SetDefault("SANDBOX_PORT", "8080")
	v.SetDefault("SANDBOX_PATIENTS", 25)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level parses LOG_LEVEL, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks the settings every client command relies on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http or https URL, got %q", c.APIBaseURL)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive, got %s", c.APITimeout)
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
			return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel)
		}
	}
	return nil
}

// ValidateServe adds the checks of the web front-end.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch c.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_BACKEND is %q", SessionBackendRedis)
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q", SessionBackendMemory, SessionBackendRedis, c.SessionBackend)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL must not be negative, got %s", c.SessionTTL)
	}
	if c.LoginRateLimitRPS < 0 || c.LoginRateLimitBurst < 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_RPS and LOGIN_RATE_LIMIT_BURST must not be negative")
	}
	if c.LoginRateLimitRPS > 0 && c.LoginRateLimitBurst == 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_BURST must be at least 1 when rate limiting is on")
	}
	if c.IsProduction() && !c.CookieSecure {
		return fmt.Errorf("COOKIE_SECURE must be true in production")
	}
	return nil
}

// ValidateSandbox checks the settings of the sandbox API. Outside development
// a signing key of at least 32 bytes is required.
func (c *Config) ValidateSandbox() error {
	if c.SandboxPatients < 0 || c.SandboxPatients > 10000 {
		return fmt.Errorf("SANDBOX_PATIENTS must be between 0 and 10000, got %d", c.SandboxPatients)
	}
	if c.IsDev() && c.SandboxSigningKey == "" {
		return nil
	}
	if len(c.SandboxSigningKey) < minSigningKeyLen {
		return fmt.Errorf("SANDBOX_SIGNING_KEY must be at least %d bytes (current ENV=%q)", minSigningKeyLen, c.Env)
	}
	return nil
}

// SandboxKey returns the sandbox signing key, or the development key when
// none is set in development.
func (c *Config) SandboxKey() []byte {
	if c.SandboxSigningKey == "" && c.IsDev() {
		return []byte(devSandboxKey)
	}
	return []byte(c.SandboxSigningKey)
}
