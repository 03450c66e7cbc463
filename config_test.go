package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvKeys = []string{
	"PORT", "GIN_MODE", "STATIC_DIR", "HASH_SALT", "TRUSTED_PROXIES",
	"CONTACT_TO", "CONTACT_FROM", "CONTACT_PROVIDER", "CONTACT_TIMEOUT", "RESEND_API_KEY",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS",
	"DB_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "RATE_LIMIT", "RATE_WINDOW",
	"ADMIN_USERNAME", "ADMIN_PASSWORD_HASH", "JWT_SECRET", "ADMIN_SECURE_COOKIE",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "8080" || cfg.Contact.Provider != ProviderResend || cfg.Contact.Timeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Contact.From != defaultSender {
		t.Fatalf("From = %q", cfg.Contact.From)
	}
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
server:
  port: "9000"
contact:
  to: yaml@example.com
  provider: smtp
  timeout: 3s
  smtp:
    host: mail.example.com
    user: relay
    pass: pw
redis:
  addr: localhost:6379
  window: 1m
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONTACT_TO", "env@example.com")
	t.Setenv("RATE_LIMIT", "3")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Contact.To != "env@example.com" {
		t.Errorf("To = %q, env should win", cfg.Contact.To)
	}
	if cfg.Contact.Provider != ProviderSMTP || cfg.Contact.SMTP.Host != "mail.example.com" {
		t.Errorf("smtp config not loaded: %+v", cfg.Contact)
	}
	if cfg.Contact.SMTP.Port != "587" {
		t.Errorf("SMTP port default lost: %q", cfg.Contact.SMTP.Port)
	}
	if cfg.Contact.Timeout != 3*time.Second {
		t.Errorf("Timeout = %s", cfg.Contact.Timeout)
	}
	if cfg.Redis.Limit != 3 || cfg.Redis.Window != time.Minute {
		t.Errorf("rate limit = %d per %s", cfg.Redis.Limit, cfg.Redis.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CONTACT_TIMEOUT", "soon")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected error for bad CONTACT_TIMEOUT")
	}

	clearConfigEnv(t)
	t.Setenv("RATE_LIMIT", "many")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected error for bad RATE_LIMIT")
	}

	clearConfigEnv(t)
	t.Setenv("ADMIN_SECURE_COOKIE", "sometimes")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected error for bad ADMIN_SECURE_COOKIE")
	}
}

func TestLoadConfigProxyAndCookieEnv(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Server.TrustedProxies) != 0 || cfg.Admin.SecureCookie {
		t.Fatalf("proxies and secure cookie should be off by default: %v %v", cfg.Server.TrustedProxies, cfg.Admin.SecureCookie)
	}

	t.Setenv("TRUSTED_PROXIES", " 10.0.0.1, 172.16.0.0/12 ,")
	t.Setenv("ADMIN_SECURE_COOKIE", "true")
	cfg, err = LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Server.TrustedProxies; len(got) != 2 || got[0] != "10.0.0.1" || got[1] != "172.16.0.0/12" {
		t.Fatalf("TrustedProxies = %q", got)
	}
	if !cfg.Admin.SecureCookie {
		t.Fatal("SecureCookie not set from env")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Contact.To = "me@example.com"
		cfg.Contact.ResendAPIKey = "re_test"
		return cfg
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.Server.TrustedProxies = []string{"10.0.0.1", "192.168.0.0/16", "::1"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid trusted proxies rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"no recipient", func(c *Config) { c.Contact.To = "" }, ErrMissingRecipient},
		{"no api key", func(c *Config) { c.Contact.ResendAPIKey = "" }, ErrMissingAPIKey},
		{"smtp without auth", func(c *Config) { c.Contact.Provider = ProviderSMTP }, ErrMissingSMTPAuth},
		{"unknown provider", func(c *Config) { c.Contact.Provider = "fax" }, ErrUnknownProvider},
		{"zero timeout", func(c *Config) { c.Contact.Timeout = 0 }, nil},
		{"bad mode", func(c *Config) { c.Server.Mode = "loud" }, nil},
		{"zero rate limit", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.Limit = 0 }, nil},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAdminEnabled(t *testing.T) {
	if (AdminConfig{}).Enabled() {
		t.Fatal("empty admin config should be disabled")
	}
	if !(AdminConfig{PasswordHash: "$2a$...", JWTSecret: "s"}).Enabled() {
		t.Fatal("configured admin should be enabled")
	}
}
