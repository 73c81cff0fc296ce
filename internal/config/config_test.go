package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.RateLimit.Window != time.Minute || cfg.RateLimit.Requests != 100 {
		t.Fatalf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.Economy.Timeout != 5*time.Second || cfg.Economy.PurchaseMode != "direct" {
		t.Fatalf("unexpected economy defaults %+v", cfg.Economy)
	}
	if cfg.Storage.Driver != "json" {
		t.Fatalf("expected json driver, got %q", cfg.Storage.Driver)
	}
	if !cfg.Storage.AutoMigrate || cfg.Storage.ConnectTimeout != 5*time.Second || cfg.Storage.MaxConnIdle != 15*time.Minute {
		t.Fatalf("unexpected storage pool defaults %+v", cfg.Storage)
	}
	if cfg.HTTP.TrustProxyHeaders {
		t.Fatal("expected proxy headers to be untrusted by default")
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livego.yaml")
	contents := `
http:
  addr: ":9000"
storage:
  driver: postgres
  postgres_dsn: postgres://file
auth:
  jwt_secret: from-file
ratelimit:
  window: 30s
  requests: 10
economy:
  purchase_mode: two_phase
chat:
  burst: 3
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIVEGO_STORAGE_POSTGRES_DSN", "postgres://env")
	t.Setenv("LIVEGO_RATELIMIT_REQUESTS", "25")
	t.Setenv("LIVEGO_SRS_HOOK_TOKEN", "hook")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("expected file addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Storage.PostgresDSN != "postgres://env" {
		t.Fatalf("expected env to override dsn, got %q", cfg.Storage.PostgresDSN)
	}
	if cfg.RateLimit.Requests != 25 || cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.SRS.HookToken != "hook" {
		t.Fatalf("expected hook token from env, got %q", cfg.SRS.HookToken)
	}
	if cfg.Economy.PurchaseMode != "two_phase" || cfg.Chat.Burst != 3 {
		t.Fatalf("unexpected file values %+v %+v", cfg.Economy, cfg.Chat)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "unsupported storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "postgres_dsn"},
		{"half tls", func(c *Config) { c.TLS.CertFile = "cert.pem" }, "tls.cert_file"},
		{"redis limiter without redis", func(c *Config) { c.RateLimit.Redis = true }, "redis.addr"},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, "ratelimit"},
		{"zero chat burst", func(c *Config) { c.Chat.Burst = 0 }, "chat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("expected defaults with secret to validate, got %v", err)
	}
}
