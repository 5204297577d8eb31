package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:      AppConfig{Env: "local", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "vtu"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Provider: ProviderConfig{BaseURL: "http://provider.local"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndWebhookSecret(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "vtu"
	c.Auth.JWTAudience = "vtu-api"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and webhook secret")
	}

	c.DB.SSLMode = "require"
	c.Gateway.WebhookSecret = "s3cret"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.PIN.MaxAttempts != 3 || c.PIN.LockDuration != 15*time.Minute {
		t.Fatalf("unexpected pin defaults: %+v", c.PIN)
	}
	if c.Ledger.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", c.Ledger.MaxRetries)
	}
	if c.Gateway.PaidStatus != "PAID" {
		t.Fatalf("expected PAID sentinel, got %q", c.Gateway.PaidStatus)
	}
	if c.Provider.Timeout != 30*time.Second {
		t.Fatalf("expected 30s provider timeout, got %s", c.Provider.Timeout)
	}
}

func TestLoad_ParsesEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "vtu")
	t.Setenv("DB_NAME", "vtu")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("VTU_PROVIDER_URL", "http://provider")
	t.Setenv("PIN_MAX_ATTEMPTS", "5")
	t.Setenv("PIN_LOCK_DURATION", "30m")
	t.Setenv("DB_MAX_OPEN_CONNS", "40")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.PIN.MaxAttempts != 5 || c.PIN.LockDuration != 30*time.Minute {
		t.Fatalf("unexpected pin config: %+v", c.PIN)
	}
	if c.DB.MaxOpenConns != 40 {
		t.Fatalf("unexpected pool size %d", c.DB.MaxOpenConns)
	}
	if c.HTTPAddr() != ":9000" {
		t.Fatalf("unexpected addr %q", c.HTTPAddr())
	}
}

func TestLoad_RejectsNonNumericAttempts(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("PIN_MAX_ATTEMPTS", "three")

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
