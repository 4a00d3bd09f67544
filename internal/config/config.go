// Package config loads famvault settings from TOML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"famvault.org/internal/sharing"
)

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	GRPC      GRPCConfig      `toml:"grpc"`
	Database  DatabaseConfig  `toml:"database"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Sharing   SharingConfig   `toml:"sharing"`
}

type HTTPConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64         `toml:"max_body_bytes"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	// TrustedProxies are CIDRs or addresses whose X-Forwarded-For is used
	// for rate limiting and logs.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// GRPCConfig serves the health service; an empty Addr disables it.
type GRPCConfig struct {
	Addr string `toml:"addr"`
}

// DatabaseConfig selects the store. An empty DSN runs on the in-memory store.
type DatabaseConfig struct {
	DSN         string `toml:"dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
	Seed        bool   `toml:"seed"`
}

type AuthConfig struct {
	Secret         string        `toml:"secret"`
	PreviousSecret string        `toml:"previous_secret"`
	TokenTTL       time.Duration `toml:"token_ttl"`
}

type RateLimitConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

type SharingConfig struct {
	// DowngradePolicy is keep_editor or allow_downgrade.
	DowngradePolicy string `toml:"downgrade_policy"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		GRPC:      GRPCConfig{Addr: ":9090"},
		Auth:      AuthConfig{TokenTTL: time.Hour},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		Sharing:   SharingConfig{DowngradePolicy: string(sharing.DowngradeKeepEditor)},
	}
}

// Read decodes TOML over the defaults.
func Read(r io.Reader) (Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Load reads path (optional), applies FAMVAULT_* environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()
		cfg, err = Read(f)
		if err != nil {
			return Config{}, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("FAMVAULT_HTTP_ADDR", &c.HTTP.Addr)
	str("FAMVAULT_GRPC_ADDR", &c.GRPC.Addr)
	str("FAMVAULT_PG_DSN", &c.Database.DSN)
	str("FAMVAULT_AUTH_SECRET", &c.Auth.Secret)
	str("FAMVAULT_AUTH_PREVIOUS_SECRET", &c.Auth.PreviousSecret)
	str("FAMVAULT_DOWNGRADE_POLICY", &c.Sharing.DowngradePolicy)
	if v, ok := lookup("FAMVAULT_TRUSTED_PROXIES"); ok && strings.TrimSpace(v) != "" {
		c.HTTP.TrustedProxies = strings.Split(v, ",")
	}
	if v, ok := lookup("FAMVAULT_RATE_LIMIT_RPS"); ok && strings.TrimSpace(v) != "" {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("FAMVAULT_RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.RPS = rps
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if _, err := sharing.ParseDowngradePolicy(c.Sharing.DowngradePolicy); err != nil {
		errs = append(errs, fmt.Errorf("sharing.downgrade_policy: %w", err))
	}
	return errors.Join(errs...)
}
