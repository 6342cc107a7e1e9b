package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func validConfig() *Config {
	return &Config{
		Env:                 "development",
		LogLevel:            "info",
		APIBaseURL:          "http://localhost:8080",
		APITimeout:          10 * time.Second,
		SessionBackend:      SessionBackendMemory,
		SessionTTL:          24 * time.Hour,
		LoginRateLimitRPS:   0.2,
		LoginRateLimitBurst: 5,
		SandboxPatients:     25,
	}
}

// chdir moves into dir for the test so a developer's .env is not read.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("expected default port 3000, got %s", cfg.Port)
	}
	if cfg.APIBaseURL != "http://localhost:8080" {
		t.Errorf("expected default API base URL, got %s", cfg.APIBaseURL)
	}
	if cfg.APITimeout != 10*time.Second {
		t.Errorf("expected default API timeout 10s, got %s", cfg.APITimeout)
	}
	if cfg.SessionBackend != SessionBackendMemory {
		t.Errorf("expected memory session backend, got %s", cfg.SessionBackend)
	}
	if cfg.SessionTTL != 0 {
		t.Errorf("expected no session TTL by default, got %s", cfg.SessionTTL)
	}
	if cfg.LoginRateLimitBurst != 5 {
		t.Errorf("expected login burst 5, got %d", cfg.LoginRateLimitBurst)
	}
	if cfg.SandboxPatients != 25 {
		t.Errorf("expected 25 sandbox patients, got %d", cfg.SandboxPatients)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("API_BASE_URL", "https://api.clinic.example")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("SESSION_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("SANDBOX_PATIENTS", "40")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIBaseURL != "https://api.clinic.example" || cfg.APITimeout != 3*time.Second {
		t.Errorf("API settings = %s %s", cfg.APIBaseURL, cfg.APITimeout)
	}
	if cfg.SessionBackend != SessionBackendRedis || cfg.RedisURL == "" {
		t.Errorf("session backend = %q redis = %q", cfg.SessionBackend, cfg.RedisURL)
	}
	if !cfg.CookieSecure {
		t.Error("expected COOKIE_SECURE to be true")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.example" {
		t.Errorf("CORS origins = %q", cfg.CORSOrigins)
	}
	if cfg.SandboxPatients != 40 {
		t.Errorf("sandbox patients = %d", cfg.SandboxPatients)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
	if !c.IsProduction() {
		t.Error("expected IsProduction() to return true for production")
	}
}

func TestConfig_Level(t *testing.T) {
	c := &Config{LogLevel: "DEBUG"}
	if c.Level() != zerolog.DebugLevel {
		t.Errorf("level = %s", c.Level())
	}
	c.LogLevel = "nonsense"
	if c.Level() != zerolog.InfoLevel {
		t.Errorf("fallback level = %s", c.Level())
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.APIBaseURL = "/api" }, "API_BASE_URL"},
		{"ftp base url", func(c *Config) { c.APIBaseURL = "ftp://files.example" }, "API_BASE_URL"},
		{"zero timeout", func(c *Config) { c.APITimeout = 0 }, "API_TIMEOUT"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"unknown backend", func(c *Config) { c.SessionBackend = "file" }, "SESSION_BACKEND"},
		{"redis without url", func(c *Config) { c.SessionBackend = SessionBackendRedis }, "REDIS_URL"},
		{"negative ttl", func(c *Config) { c.SessionTTL = -time.Second }, "SESSION_TTL"},
		{"zero burst", func(c *Config) { c.LoginRateLimitBurst = 0 }, "LOGIN_RATE_LIMIT_BURST"},
		{"insecure cookies in production", func(c *Config) { c.Env = "production" }, "COOKIE_SECURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.ValidateServe()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestValidate_RateLimitOff(t *testing.T) {
	c := validConfig()
	c.LoginRateLimitRPS = 0
	c.LoginRateLimitBurst = 0
	if err := c.ValidateServe(); err != nil {
		t.Errorf("rate limiting off should validate: %v", err)
	}
}

func TestValidateSandbox(t *testing.T) {
	c := validConfig()
	if err := c.ValidateSandbox(); err != nil {
		t.Fatalf("development without key: %v", err)
	}
	if string(c.SandboxKey()) != devSandboxKey {
		t.Error("expected the development key")
	}

	c.Env = "production"
	if err := c.ValidateSandbox(); err == nil {
		t.Error("expected production without key to fail")
	}
	c.SandboxSigningKey = "short"
	if err := c.ValidateSandbox(); err == nil {
		t.Error("expected short key to fail")
	}
	c.SandboxSigningKey = strings.Repeat("k", minSigningKeyLen)
	if err := c.ValidateSandbox(); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if string(c.SandboxKey()) != c.SandboxSigningKey {
		t.Error("configured key not returned")
	}

	c.SandboxPatients = 20000
	if err := c.ValidateSandbox(); err == nil {
		t.Error("expected too many patients to fail")
	}
}
