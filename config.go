package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderResend = "resend"
	ProviderSMTP   = "smtp"

	defaultSender = "Portfolio <onboarding@resend.dev>"
)

var (
	ErrMissingRecipient = errors.New("contact recipient not configured (CONTACT_TO)")
	ErrUnknownProvider  = errors.New("unknown contact provider")
	ErrMissingAPIKey    = errors.New("resend API key not configured (RESEND_API_KEY)")
	ErrMissingSMTPAuth  = errors.New("SMTP credentials not configured")
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Contact ContactConfig `yaml:"contact"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Admin   AdminConfig   `yaml:"admin"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	Mode      string `yaml:"mode"`
	StaticDir string `yaml:"static_dir"`
	// HashSalt keys the IP hashes. A random salt is generated when empty,
	// which makes hashes unstable across restarts.
	HashSalt string `yaml:"hash_salt"`
	// TrustedProxies lists the proxy IPs or CIDRs whose forwarding headers
	// are believed. Empty means the client IP is always the peer address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ContactConfig is everything the relay needs to build and deliver a message.
type ContactConfig struct {
	To           string        `yaml:"to"`
	From         string        `yaml:"from"`
	Provider     string        `yaml:"provider"`
	Timeout      time.Duration `yaml:"timeout"`
	ResendAPIKey string        `yaml:"resend_api_key"`
	SMTP         SMTPConfig    `yaml:"smtp"`
}

type SMTPConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type StoreConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Limit    int           `yaml:"limit"`
	Window   time.Duration `yaml:"window"`
}

type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	JWTSecret    string `yaml:"jwt_secret"`
	// SecureCookie forces the Secure flag on the session cookie. Set it when
	// TLS is terminated by a proxy in front of the server.
	SecureCookie bool `yaml:"secure_cookie"`
}

// Enabled reports whether the admin routes should be mounted.
func (a AdminConfig) Enabled() bool {
	return a.PasswordHash != "" && a.JWTSecret != ""
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "release",
		},
		Contact: ContactConfig{
			From:     defaultSender,
			Provider: ProviderResend,
			Timeout:  10 * time.Second,
			SMTP: SMTPConfig{
				Host: "smtp.gmail.com",
				Port: "587",
			},
		},
		Store: StoreConfig{
			Path:      "folio.db",
			Retention: 365 * 24 * time.Hour,
		},
		Redis: RedisConfig{
			Limit:  5,
			Window: 10 * time.Minute,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
	}
}

// LoadConfig reads the optional YAML file at path on top of the defaults and
// then applies environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if err := overrideFromEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overrideFromEnv(cfg *Config) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Mode, "GIN_MODE")
	setString(&cfg.Server.StaticDir, "STATIC_DIR")
	setString(&cfg.Server.HashSalt, "HASH_SALT")
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = splitList(v)
	}

	setString(&cfg.Contact.To, "CONTACT_TO")
	setString(&cfg.Contact.From, "CONTACT_FROM")
	setString(&cfg.Contact.Provider, "CONTACT_PROVIDER")
	setString(&cfg.Contact.ResendAPIKey, "RESEND_API_KEY")
	setString(&cfg.Contact.SMTP.Host, "SMTP_HOST")
	setString(&cfg.Contact.SMTP.Port, "SMTP_PORT")
	setString(&cfg.Contact.SMTP.User, "SMTP_USER")
	setString(&cfg.Contact.SMTP.Pass, "SMTP_PASS")
	if err := setDuration(&cfg.Contact.Timeout, "CONTACT_TIMEOUT"); err != nil {
		return err
	}

	setString(&cfg.Store.Path, "DB_PATH")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT %q: %w", v, err)
		}
		cfg.Redis.Limit = n
	}
	if err := setDuration(&cfg.Redis.Window, "RATE_WINDOW"); err != nil {
		return err
	}

	setString(&cfg.Admin.Username, "ADMIN_USERNAME")
	setString(&cfg.Admin.PasswordHash, "ADMIN_PASSWORD_HASH")
	setString(&cfg.Admin.JWTSecret, "JWT_SECRET")
	if v := os.Getenv("ADMIN_SECURE_COOKIE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ADMIN_SECURE_COOKIE %q: %w", v, err)
		}
		cfg.Admin.SecureCookie = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// Validate checks that the relay can actually deliver mail.
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unknown server mode %q", c.Server.Mode)
	}
	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}
	if strings.TrimSpace(c.Contact.To) == "" {
		return ErrMissingRecipient
	}
	switch c.Contact.Provider {
	case ProviderResend:
		if c.Contact.ResendAPIKey == "" {
			return ErrMissingAPIKey
		}
	case ProviderSMTP:
		if c.Contact.SMTP.User == "" || c.Contact.SMTP.Pass == "" {
			return ErrMissingSMTPAuth
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Contact.Provider)
	}
	if c.Contact.Timeout <= 0 {
		return fmt.Errorf("contact timeout must be positive, got %s", c.Contact.Timeout)
	}
	if c.Redis.Addr != "" && (c.Redis.Limit <= 0 || c.Redis.Window <= 0) {
		return fmt.Errorf("rate limit needs a positive limit and window, got %d per %s", c.Redis.Limit, c.Redis.Window)
	}
	return nil
}
